package config

import (
	"fmt"
	"time"

	"bling-wix-sync/pkg/retry"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server  ServerConfig
	App     AppConfig
	Bling   BlingConfig
	Wix     WixConfig
	Retry   RetryConfig
	Cache   CacheConfig
	Store   StoreConfig
	History HistoryConfig
	Sync    SyncConfig
	Events  EventsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"10000"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15m"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name           string   `envconfig:"APP_NAME" default:"bling-wix-sync"`
	Environment    string   `envconfig:"APP_ENV" default:"development"`
	Version        string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys        []string `envconfig:"API_KEYS"`
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// BlingConfig holds the ERP OAuth credentials and listing behaviour.
type BlingConfig struct {
	ClientID     string `envconfig:"CLIENT_ID"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`
	RedirectURI  string `envconfig:"REDIRECT_URI"`
	RefreshToken string `envconfig:"REFRESH_TOKEN"`

	TokenURL     string `envconfig:"BLING_TOKEN_URL" default:"https://www.bling.com.br/Api/v3/oauth/token"`
	AuthorizeURL string `envconfig:"BLING_AUTHORIZE_URL" default:"https://www.bling.com.br/Api/v3/oauth/authorize"`
	ProductsURL  string `envconfig:"BLING_PRODUCTS_URL" default:"https://www.bling.com.br/Api/v3/produtos"`
	PageParam    string `envconfig:"BLING_PAGE_PARAM" default:"pagina"`
	LimitParam   string `envconfig:"BLING_LIMIT_PARAM" default:"limite"`

	PageSize                 int           `envconfig:"BLING_PAGE_SIZE" default:"100"`
	MaxPages                 int           `envconfig:"BLING_MAX_PAGES" default:"1000"`
	RequestTimeout           time.Duration `envconfig:"BLING_REQUEST_TIMEOUT" default:"15s"`
	PageDelay                time.Duration `envconfig:"BLING_PAGE_DELAY" default:"400ms"`
	ErrorDelay               time.Duration `envconfig:"BLING_ERROR_DELAY" default:"2s"`
	FailureThreshold         int           `envconfig:"BLING_FAILURE_THRESHOLD" default:"3"`
	DegradedFailureThreshold int           `envconfig:"BLING_DEGRADED_FAILURE_THRESHOLD" default:"5"`
	DegradedLatency          time.Duration `envconfig:"BLING_DEGRADED_LATENCY" default:"3s"`
	ConnectivityPrecheck     bool          `envconfig:"BLING_CONNECTIVITY_PRECHECK" default:"true"`
}

// WixConfig holds the storefront ingestion endpoint settings.
type WixConfig struct {
	EndpointURL    string        `envconfig:"WIX_FUNCTION_URL"`
	APIKey         string        `envconfig:"WIX_API_KEY"`
	BatchSize      int           `envconfig:"WIX_BATCH_SIZE" default:"100"`
	BatchDelay     time.Duration `envconfig:"WIX_BATCH_DELAY" default:"1s"`
	RequestTimeout time.Duration `envconfig:"WIX_REQUEST_TIMEOUT" default:"15s"`
	PayloadFormat  string        `envconfig:"WIX_PAYLOAD_FORMAT" default:"array"` // array or wrapped
}

// RetryConfig is the retry policy shared by the fetcher and the publisher.
type RetryConfig struct {
	MaxAttempts   int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	BaseDelay     time.Duration `envconfig:"RETRY_BASE_DELAY" default:"1s"`
	BackoffFactor float64       `envconfig:"RETRY_BACKOFF_FACTOR" default:"2"`
}

// Policy converts the settings into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:   r.MaxAttempts,
		BaseDelay:     r.BaseDelay,
		BackoffFactor: r.BackoffFactor,
	}
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Type           string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	StockTTL       time.Duration `envconfig:"STOCK_CACHE_TTL" default:"10m"`
	StaleRetention time.Duration `envconfig:"STOCK_CACHE_STALE_RETENTION" default:"24h"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"blingwix"`
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// StoreConfig selects where the token pair is persisted.
type StoreConfig struct {
	TokenBackend string `envconfig:"TOKEN_STORE" default:"sqlite"` // memory, sqlite, postgres, mysql, redis
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"./data/bling-wix-sync.db"`

	PostgresHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	PostgresName     string `envconfig:"POSTGRES_DB" default:"blingwix"`
	PostgresUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD" default:""`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`

	MySQLHost     string `envconfig:"MYSQL_HOST" default:"localhost"`
	MySQLPort     int    `envconfig:"MYSQL_PORT" default:"3306"`
	MySQLName     string `envconfig:"MYSQL_DB" default:"blingwix"`
	MySQLUser     string `envconfig:"MYSQL_USER" default:"root"`
	MySQLPassword string `envconfig:"MYSQL_PASSWORD" default:""`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.PostgresUser, s.PostgresPassword, s.PostgresHost, s.PostgresPort, s.PostgresName, s.PostgresSSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		s.MySQLUser, s.MySQLPassword, s.MySQLHost, s.MySQLPort, s.MySQLName)
}

// HistoryConfig controls the sync run history.
type HistoryConfig struct {
	Type      string        `envconfig:"HISTORY_DB_TYPE" default:"sqlite"` // sqlite, postgres or none
	Retention time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
}

// SyncConfig controls run scheduling.
type SyncConfig struct {
	Interval      time.Duration `envconfig:"SYNC_INTERVAL" default:"0"`
	RunTimeout    time.Duration `envconfig:"SYNC_RUN_TIMEOUT" default:"10m"`
	PruneInterval time.Duration `envconfig:"HISTORY_PRUNE_INTERVAL" default:"6h"`
}

// EventsConfig holds run notification settings.
type EventsConfig struct {
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	Topic        string   `envconfig:"KAFKA_TOPIC" default:"stock-sync-runs"`
}

// Enabled reports whether run events should be published.
func (e *EventsConfig) Enabled() bool {
	return len(e.KafkaBrokers) > 0
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
