// Package accounts provides an embeddable user-account subsystem:
// registration with email confirmation, opaque token login, password reset
// and profile management.
//
// Setup:
//
//  1. Apply the schema, either with Config.Migrate or `accounts-admin migrate`
//  2. Create an Accounts instance and mount its router
//
// Basic usage:
//
//	db, _ := sql.Open("postgres", "postgres://localhost/myapp?sslmode=disable")
//
//	acct, err := accounts.New(ctx, accounts.Config{
//	    DB:         db,
//	    Migrate:    true,
//	    ConfirmURL: "https://app.example.com/confirm",
//	    ResetURL:   "https://app.example.com/reset-password",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	r := chi.NewRouter()
//	r.Mount("/", acct.Router())
//	http.ListenAndServe(":8080", r)
//
// Protecting your own routes:
//
//	r.With(acct.AuthMiddleware()).Get("/orders", func(w http.ResponseWriter, r *http.Request) {
//	    account, _ := accounts.CurrentAccount(r)
//	    ...
//	})
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tendant/simple-accounts/internal/config"
	httpserver "github.com/tendant/simple-accounts/internal/http"
	"github.com/tendant/simple-accounts/internal/http/middleware"
	"github.com/tendant/simple-accounts/internal/notification"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/domain"
	"github.com/tendant/simple-accounts/pkg/media"
	"github.com/tendant/simple-accounts/pkg/repository"
	"github.com/tendant/simple-accounts/pkg/repository/memstore"
)

// Config holds the configuration for the accounts library.
type Config struct {
	// DB is the Postgres connection holding accounts and, unless Tokens is
	// set, tokens. Required unless Memory is set.
	DB *sql.DB

	// Migrate applies the embedded schema migrations to DB in New.
	Migrate bool

	// Memory keeps accounts and tokens in process instead of Postgres.
	// Intended for development and tests.
	Memory *memstore.Store

	// Tokens overrides the token store, e.g. with a Redis store.
	Tokens auth.TokenStore

	// Pictures stores profile pictures (default: local files under ./media
	// served at /media).
	Pictures auth.PictureStore

	// Mailer delivers confirmation and reset links (default: logs them).
	Mailer auth.Mailer

	// ConfirmURL and ResetURL are the emailed link targets used by the
	// default mailer. The token is appended as the "token" query parameter.
	ConfirmURL string
	ResetURL   string

	// AuthTokenTTL is the lifetime of login tokens (default: 24 hours).
	AuthTokenTTL time.Duration
	// ConfirmationTokenTTL is the lifetime of confirmation tokens (default: never expire).
	ConfirmationTokenTTL time.Duration
	// PasswordResetTokenTTL is the lifetime of reset tokens (default: 1 hour).
	PasswordResetTokenTTL time.Duration

	// PasswordPolicy constrains new passwords (default: at least 8 characters).
	PasswordPolicy *auth.PasswordPolicy

	StrictEmail          bool
	BlockDisposableEmail bool

	// MaxPictureSize caps profile picture uploads in bytes (default: 5 MiB).
	MaxPictureSize int64

	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Accounts is the main account subsystem instance.
type Accounts struct {
	config   Config
	db       *sql.DB
	pictures auth.PictureStore
	accounts *auth.AccountService
	profiles *auth.ProfileService
}

// New creates a new Accounts instance. Without Migrate it fails if the
// schema has not been applied.
func New(ctx context.Context, cfg Config) (*Accounts, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	var (
		accountStore auth.AccountStore
		tokenStore   auth.TokenStore
		tx           auth.Transactor
	)
	if cfg.Memory != nil {
		accountStore = cfg.Memory.Accounts()
		tokenStore = cfg.Memory.Tokens()
		tx = cfg.Memory
	} else {
		if cfg.Migrate {
			if err := repository.Migrate(ctx, cfg.DB); err != nil {
				return nil, fmt.Errorf("accounts: %w", err)
			}
		} else if err := validateSchema(ctx, cfg.DB, cfg.Tokens == nil); err != nil {
			return nil, err
		}
		accountStore = repository.NewAccountsRepository(cfg.DB)
		tokenStore = repository.NewTokensRepository(cfg.DB)
		tx = repository.NewTransactor(cfg.DB)
	}
	if cfg.Tokens != nil {
		tokenStore = cfg.Tokens
	}

	emailRules := auth.EmailRules{Strict: cfg.StrictEmail, BlockDisposable: cfg.BlockDisposableEmail}
	accountService := auth.NewAccountService(cfg.Logger, accountStore, tokenStore, tx, cfg.Mailer, auth.AccountConfig{
		AuthTokenTTL:          cfg.AuthTokenTTL,
		ConfirmationTokenTTL:  cfg.ConfirmationTokenTTL,
		PasswordResetTokenTTL: cfg.PasswordResetTokenTTL,
		Email:                 emailRules,
		PasswordPolicy:        *cfg.PasswordPolicy,
	})
	profileService := auth.NewProfileService(cfg.Logger, accountStore, tokenStore, tx, cfg.Pictures, auth.ProfileConfig{
		MaxPictureSize: cfg.MaxPictureSize,
		Email:          emailRules,
	})

	return &Accounts{
		config:   cfg,
		db:       cfg.DB,
		pictures: cfg.Pictures,
		accounts: accountService,
		profiles: profileService,
	}, nil
}

// Router returns a handler with all account routes, rate limited with the
// default limits:
//
//	POST   /v1/accounts/register
//	GET    /v1/accounts/confirm?token=
//	POST   /v1/accounts/confirm
//	POST   /v1/accounts/confirm/resend
//	POST   /v1/accounts/login
//	POST   /v1/accounts/logout              (protected)
//	POST   /v1/accounts/password/reset-request
//	GET    /v1/accounts/password/reset?token=
//	POST   /v1/accounts/password/reset
//	POST   /v1/accounts/password/change     (protected)
//	GET    /v1/users, /v1/users/me, /v1/users/{id}        (protected)
//	PUT    /v1/users/{id}, PATCH /v1/users/{id}           (protected)
//	DELETE /v1/users/{id}                                 (protected)
//	PUT    /v1/users/me/picture, DELETE /v1/users/me/picture (protected)
//	GET    /media/*   (local picture store only)
//	GET    /health
func (a *Accounts) Router() http.Handler {
	return httpserver.NewRouter(a.routerConfig(defaultRateLimit()))
}

func defaultRateLimit() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:                  true,
		AuthRequestsPerMinute:    10,
		AuthWindowMinutes:        1,
		ResetRequestsPerWindow:   5,
		ResetWindowMinutes:       15,
		ConfirmRequestsPerWindow: 10,
		ConfirmWindowMinutes:     15,
	}
}

// routerConfig returns the router settings for this instance, leaving
// security headers and the metrics endpoint to the host application.
func (a *Accounts) routerConfig(rateLimit config.RateLimitConfig) httpserver.RouterConfig {
	cfg := httpserver.RouterConfig{
		Logger:          a.config.Logger,
		AccountService:  a.accounts,
		ProfileService:  a.profiles,
		RateLimit:       rateLimit,
		MaxRequestBytes: 1 << 20,
		MaxUploadBytes:  a.config.MaxPictureSize + 64<<10,
		HealthCheck:     a.HealthCheck,
		DisableMetrics:  true,
	}
	if files, ok := a.pictures.(*media.FileStore); ok {
		cfg.MediaHandler = files.Handler()
	}
	return cfg
}

// AccountService returns the account lifecycle service for advanced usage.
func (a *Accounts) AccountService() *auth.AccountService {
	return a.accounts
}

// ProfileService returns the profile service for advanced usage.
func (a *Accounts) ProfileService() *auth.ProfileService {
	return a.profiles
}

// AuthMiddleware returns middleware that requires a valid auth token.
func (a *Accounts) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(a.config.Logger, a.accounts)
}

// CurrentAccount returns the account authenticated by AuthMiddleware.
func CurrentAccount(r *http.Request) (*domain.Account, bool) {
	return middleware.GetAccount(r.Context())
}

// HealthCheck pings the database when one is configured.
func (a *Accounts) HealthCheck(r *http.Request) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(r.Context())
}

func validateConfig(cfg *Config) error {
	if cfg.DB == nil && cfg.Memory == nil {
		return errors.New("accounts: DB or Memory is required")
	}
	if cfg.AuthTokenTTL < 0 || cfg.ConfirmationTokenTTL < 0 || cfg.PasswordResetTokenTTL < 0 {
		return errors.New("accounts: token TTLs must not be negative")
	}
	if cfg.MaxPictureSize < 0 {
		return errors.New("accounts: MaxPictureSize must not be negative")
	}
	return nil
}

func applyDefaults(cfg *Config) error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AuthTokenTTL == 0 {
		cfg.AuthTokenTTL = 24 * time.Hour
	}
	if cfg.PasswordResetTokenTTL == 0 {
		cfg.PasswordResetTokenTTL = time.Hour
	}
	if cfg.MaxPictureSize == 0 {
		cfg.MaxPictureSize = 5 << 20
	}
	if cfg.PasswordPolicy == nil {
		policy := auth.DefaultPasswordPolicy()
		cfg.PasswordPolicy = &policy
	}
	if cfg.Mailer == nil {
		cfg.Mailer = notification.NewMailer(notification.NewLogSender(cfg.Logger), notification.MailerConfig{
			ConfirmURL:      cfg.ConfirmURL,
			ResetURL:        cfg.ResetURL,
			ConfirmationTTL: cfg.ConfirmationTokenTTL,
			ResetTTL:        cfg.PasswordResetTokenTTL,
		})
	}
	if cfg.Pictures == nil {
		files, err := media.NewFileStore("media", "/media")
		if err != nil {
			return fmt.Errorf("accounts: %w", err)
		}
		cfg.Pictures = files
	}
	return nil
}

// validateSchema checks that the required tables exist.
func validateSchema(ctx context.Context, db *sql.DB, needTokens bool) error {
	requiredTables := []string{"accounts"}
	if needTokens {
		requiredTables = append(requiredTables, "tokens")
	}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := db.QueryRowContext(ctx, query, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("accounts: missing table '%s' - run migrations first", table)
		}
		if err != nil {
			return fmt.Errorf("accounts: failed to check schema: %w", err)
		}
	}

	return nil
}
