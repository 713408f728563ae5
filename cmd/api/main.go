package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bling-wix-sync/internal/bling"
	"bling-wix-sync/internal/cache"
	"bling-wix-sync/internal/config"
	"bling-wix-sync/internal/events"
	"bling-wix-sync/internal/handler"
	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/middleware"
	"bling-wix-sync/internal/repository"
	"bling-wix-sync/internal/router"
	"bling-wix-sync/internal/service"
	"bling-wix-sync/internal/wix"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.App.Environment)
	log.Info("starting", slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version), slog.String("env", cfg.App.Environment))

	stores, err := openStorage(cfg, log)
	if err != nil {
		fatal(log, "failed to initialize storage", err)
	}
	defer stores.Close()

	// Token store
	tokens := service.NewTokenStore(stores.tokenRepo, log)
	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := tokens.Load(loadCtx, cfg.Bling.RefreshToken); err != nil {
		fatal(log, "failed to load token pair", err)
	}
	cancel()

	// ERP and storefront clients
	retryPolicy := cfg.Retry.Policy()
	oauth := bling.NewOAuthClient(bling.OAuthConfig{
		ClientID:     cfg.Bling.ClientID,
		ClientSecret: cfg.Bling.ClientSecret,
		RedirectURI:  cfg.Bling.RedirectURI,
		TokenURL:     cfg.Bling.TokenURL,
		AuthorizeURL: cfg.Bling.AuthorizeURL,
	}, &http.Client{Timeout: cfg.Bling.RequestTimeout}, tokens, log)

	fetcher := bling.NewProductFetcher(bling.FetcherConfig{
		ProductsURL:              cfg.Bling.ProductsURL,
		PageParam:                cfg.Bling.PageParam,
		LimitParam:               cfg.Bling.LimitParam,
		PageSize:                 cfg.Bling.PageSize,
		MaxPages:                 cfg.Bling.MaxPages,
		PageDelay:                cfg.Bling.PageDelay,
		ErrorDelay:               cfg.Bling.ErrorDelay,
		FailureThreshold:         cfg.Bling.FailureThreshold,
		DegradedFailureThreshold: cfg.Bling.DegradedFailureThreshold,
		ConnectivityPrecheck:     cfg.Bling.ConnectivityPrecheck,
		DegradedLatency:          cfg.Bling.DegradedLatency,
		Retry:                    retryPolicy,
	}, &http.Client{Timeout: cfg.Bling.RequestTimeout}, log)

	publisher := wix.NewPublisher(wix.PublisherConfig{
		EndpointURL:   cfg.Wix.EndpointURL,
		APIKey:        cfg.Wix.APIKey,
		BatchSize:     cfg.Wix.BatchSize,
		BatchDelay:    cfg.Wix.BatchDelay,
		PayloadFormat: cfg.Wix.PayloadFormat,
		Retry:         retryPolicy,
	}, &http.Client{Timeout: cfg.Wix.RequestTimeout}, log)
	if !publisher.Configured() {
		log.Warn("WIX_FUNCTION_URL is not set, every batch will fail until it is configured")
	}

	stock := cache.NewStockCache(stores.cache, cfg.Cache.StockTTL, cfg.Cache.StaleRetention)

	// Run notifications
	var publisherEvents events.Publisher = events.NoopPublisher{}
	if cfg.Events.Enabled() {
		publisherEvents = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.Topic)
		log.Info("kafka run events enabled", slog.Any("brokers", cfg.Events.KafkaBrokers), slog.String("topic", cfg.Events.Topic))
	}
	defer publisherEvents.Close()

	// Orchestrator and scheduler
	syncService := service.NewSyncService(service.SyncDeps{
		Auth:       oauth,
		Fetcher:    fetcher,
		Publisher:  publisher,
		Stock:      stock,
		Runs:       stores.runRepo,
		Events:     publisherEvents,
		RunTimeout: cfg.Sync.RunTimeout,
	}, log)

	scheduler := service.NewScheduler(syncService, service.SchedulerConfig{
		SyncInterval:     cfg.Sync.Interval,
		PruneInterval:    cfg.Sync.PruneInterval,
		HistoryRetention: cfg.History.Retention,
	}, log)
	scheduler.Start()

	// Handlers
	if len(cfg.App.APIKeys) == 0 {
		log.Warn("API_KEYS is empty, protected endpoints are open")
	}
	r := router.New(router.Config{
		Handler:        handler.New(cfg.App.Name, cfg.App.Version, tokens),
		SyncHandler:    handler.NewSyncHandler(syncService),
		OAuthHandler:   handler.NewOAuthHandler(oauth, stores.cache),
		StockHandler:   handler.NewStockHandler(stock),
		AdminHandler:   handler.NewAdminHandler(syncService, tokens, stock, cfg.Cache.Type),
		AuthMiddleware: middleware.NewAuthMiddleware(cfg.App.APIKeys),
		AllowedOrigins: cfg.App.AllowedOrigins,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("server listening", slog.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(log, "server error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", logger.Err(err))
	}
	scheduler.Stop()

	log.Info("server stopped")
}

// storage holds the backends opened at startup.
type storage struct {
	cache     cache.Cache
	tokenRepo repository.TokenRepository
	runRepo   repository.RunRepository

	closers []func() error
}

func (i *storage) Close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

// openStorage connects the cache, token and history backends selected by config.
// SQLite and PostgreSQL handles are shared between the token store and history.
func openStorage(cfg *config.Config, log *slog.Logger) (*storage, error) {
	in := &storage{}

	var redisClient *redis.Client
	needRedis := cfg.Cache.Type == "redis" || cfg.Store.TokenBackend == "redis"
	if needRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress(),
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			redisClient.Close()
			return nil, err
		}
		in.closers = append(in.closers, redisClient.Close)
		log.Info("redis client initialized", slog.String("addr", cfg.Cache.RedisAddress()))
	}

	if cfg.Cache.Type == "redis" {
		in.cache = cache.NewRedisCache(redisClient, cfg.Cache.RedisPrefix)
	} else {
		mem := cache.NewMemoryCache()
		in.closers = append(in.closers, mem.Close)
		in.cache = mem
	}

	var sqliteDB, postgresDB *sql.DB
	openShared := func(kind string) (*sql.DB, error) {
		var err error
		switch kind {
		case "sqlite":
			if sqliteDB == nil {
				if sqliteDB, err = repository.OpenSQLite(cfg.Store.SQLitePath); err == nil {
					in.closers = append(in.closers, sqliteDB.Close)
					log.Info("sqlite database opened", slog.String("path", cfg.Store.SQLitePath))
				}
			}
			return sqliteDB, err
		default:
			if postgresDB == nil {
				if postgresDB, err = repository.OpenPostgres(cfg.Store.PostgresDSN()); err == nil {
					in.closers = append(in.closers, postgresDB.Close)
					log.Info("postgres database opened", slog.String("host", cfg.Store.PostgresHost))
				}
			}
			return postgresDB, err
		}
	}

	switch cfg.Store.TokenBackend {
	case "memory":
		log.Warn("token store is memory only, a restart needs REFRESH_TOKEN or a new authorization")
	case "redis":
		in.tokenRepo = repository.NewRedisTokenRepository(redisClient, cfg.Cache.RedisPrefix)
	case "mysql":
		db, err := repository.OpenMySQL(cfg.Store.MySQLDSN())
		if err != nil {
			in.Close()
			return nil, err
		}
		in.closers = append(in.closers, db.Close)
		if in.tokenRepo, err = repository.NewMySQLTokenRepository(db); err != nil {
			in.Close()
			return nil, err
		}
	case "postgres", "postgresql":
		db, err := openShared("postgres")
		if err != nil {
			in.Close()
			return nil, err
		}
		if in.tokenRepo, err = repository.NewPostgresTokenRepository(db); err != nil {
			in.Close()
			return nil, err
		}
	default:
		db, err := openShared("sqlite")
		if err != nil {
			in.Close()
			return nil, err
		}
		if in.tokenRepo, err = repository.NewSQLiteTokenRepository(db); err != nil {
			in.Close()
			return nil, err
		}
	}

	switch cfg.History.Type {
	case "none":
		log.Info("sync history kept in memory only")
	case "postgres", "postgresql":
		db, err := openShared("postgres")
		if err != nil {
			in.Close()
			return nil, err
		}
		if in.runRepo, err = repository.NewPostgresRunRepository(db); err != nil {
			in.Close()
			return nil, err
		}
	default:
		db, err := openShared("sqlite")
		if err != nil {
			in.Close()
			return nil, err
		}
		if in.runRepo, err = repository.NewSQLiteRunRepository(db); err != nil {
			in.Close()
			return nil, err
		}
	}

	return in, nil
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, logger.Err(err))
	os.Exit(1)
}
