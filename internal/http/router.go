package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-accounts/internal/config"
	"github.com/tendant/simple-accounts/internal/http/features/account"
	"github.com/tendant/simple-accounts/internal/http/features/common"
	"github.com/tendant/simple-accounts/internal/http/features/password"
	"github.com/tendant/simple-accounts/internal/http/features/users"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/httputil"
	"github.com/tendant/simple-accounts/pkg/auth"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	AccountService  *auth.AccountService
	ProfileService  *auth.ProfileService
	RateLimit       config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	MaxRequestBytes int64
	// MaxUploadBytes caps bodies on the users routes, which accept picture
	// uploads. It never lowers MaxRequestBytes.
	MaxUploadBytes int64
	// MediaHandler serves stored pictures under /media when set.
	MediaHandler http.Handler
	// HealthCheck reports backend readiness for /health. Nil means always healthy.
	HealthCheck func(r *http.Request) error
	// DisableMetrics leaves /metrics unregistered.
	DisableMetrics bool
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r); err != nil {
				logger.Warn("health check failed", "error", err)
				httputil.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if !cfg.DisableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.MediaHandler != nil {
		r.Handle("/media/*", http.StripPrefix("/media/", cfg.MediaHandler))
	}

	mw := common.Middleware{
		RequireAuth: middleware.Auth(logger, cfg.AccountService),
		RateLimit:   middleware.CreateRateLimiters(cfg.RateLimit, logger),
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBytes))
		account.NewHandler(logger, cfg.AccountService, cfg.ProfileService).RegisterRoutes(r, mw)
		password.NewHandler(logger, cfg.AccountService).RegisterRoutes(r, mw)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestSizeLimit(max(cfg.MaxRequestBytes, cfg.MaxUploadBytes)))
		users.NewHandler(logger, cfg.ProfileService).RegisterRoutes(r, mw)
	})

	return r
}
