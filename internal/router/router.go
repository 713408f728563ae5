package router

import (
	"net/http"

	"bling-wix-sync/internal/handler"
	"bling-wix-sync/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/exp/slog"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	SyncHandler    *handler.SyncHandler
	OAuthHandler   *handler.OAuthHandler
	StockHandler   *handler.StockHandler
	AdminHandler   *handler.AdminHandler
	AuthMiddleware func(http.Handler) http.Handler
	AllowedOrigins []string
	Logger         *slog.Logger
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.NewRecovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.NewLogging(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// PUBLIC routes (no auth required)
	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	// AUTHENTICATED routes; the middleware lets health, ready and the OAuth callback through
	r.Group(func(r chi.Router) {
		if cfg.AuthMiddleware != nil {
			r.Use(cfg.AuthMiddleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			if cfg.Handler != nil {
				r.Get("/health", cfg.Handler.Health)
				r.Get("/ready", cfg.Handler.Ready)
			}

			if cfg.OAuthHandler != nil {
				r.Route("/oauth", func(r chi.Router) {
					r.Get("/authorize", cfg.OAuthHandler.Authorize)
					r.Get("/callback", cfg.OAuthHandler.Callback)
				})
			}

			if cfg.SyncHandler != nil {
				r.Post("/sync", cfg.SyncHandler.RunSync)
				r.Get("/sync/status", cfg.SyncHandler.GetStatus)
				r.Get("/sync/runs", cfg.SyncHandler.ListRuns)
			}

			if cfg.StockHandler != nil {
				r.Get("/stock", cfg.StockHandler.GetStock)
			}

			if cfg.AdminHandler != nil {
				r.Get("/admin/stats", cfg.AdminHandler.GetStats)
			}
		})
	})

	return r
}
