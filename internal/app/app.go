// Package app assembles the account subsystem from environment configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-accounts/accounts"
	"github.com/tendant/simple-accounts/internal/config"
	httpserver "github.com/tendant/simple-accounts/internal/http"
	"github.com/tendant/simple-accounts/internal/notification"
	"github.com/tendant/simple-accounts/pkg/auth"
	"github.com/tendant/simple-accounts/pkg/media"
	"github.com/tendant/simple-accounts/pkg/repository"
	"github.com/tendant/simple-accounts/pkg/repository/memstore"
	"github.com/tendant/simple-accounts/pkg/repository/redisstore"
)

// uploadOverhead is the multipart framing allowed on top of the picture size.
const uploadOverhead = 64 << 10

// App holds the wired subsystem and the connections it owns.
type App struct {
	Accounts     *accounts.Accounts
	DB           *sql.DB
	Redis        redis.UniversalClient
	MediaHandler http.Handler

	cfg    *config.Config
	logger *slog.Logger
}

// Open connects the configured backends and builds the services.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	if err := a.open(ctx, migrate); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context, migrate bool) (err error) {
	cfg, logger := a.cfg, a.logger

	acctCfg := accounts.Config{
		Migrate:               migrate,
		AuthTokenTTL:          cfg.AuthTokenTTL,
		ConfirmationTokenTTL:  cfg.ConfirmationTokenTTL,
		PasswordResetTokenTTL: cfg.PasswordResetTokenTTL,
		PasswordPolicy: &auth.PasswordPolicy{
			MinLength:        cfg.PasswordPolicy.MinLength,
			RequireUppercase: cfg.PasswordPolicy.RequireUppercase,
			RequireLowercase: cfg.PasswordPolicy.RequireLowercase,
			RequireNumber:    cfg.PasswordPolicy.RequireNumber,
			RequireSpecial:   cfg.PasswordPolicy.RequireSpecial,
		},
		StrictEmail:          cfg.StrictEmail,
		BlockDisposableEmail: cfg.BlockDisposableEmail,
		MaxPictureSize:       cfg.Media.MaxPictureSize,
		Logger:               logger,
	}

	if cfg.TokenStore == config.TokenStoreMemory {
		logger.Warn("using in-memory account and token storage; data is lost on restart")
		acctCfg.Memory = memstore.New()
	} else {
		a.DB, err = repository.NewDB(ctx, repository.Config{URL: cfg.DSN(), MaxOpenConns: cfg.DBMaxConns})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		acctCfg.DB = a.DB
		logger.Info("connected to database")
	}

	if cfg.TokenStore == config.TokenStoreRedis {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.New(a.Redis, cfg.Redis.Prefix)
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		acctCfg.Tokens = store
		logger.Info("using redis token store", "addr", cfg.Redis.Addr)
	}

	switch cfg.Media.Backend {
	case config.MediaS3:
		store, err := media.NewS3Store(ctx, media.S3Config{
			Bucket:       cfg.Media.S3Bucket,
			Region:       cfg.Media.S3Region,
			Endpoint:     cfg.Media.S3Endpoint,
			AccessKey:    cfg.Media.S3AccessKey,
			SecretKey:    cfg.Media.S3SecretKey,
			PublicURL:    cfg.Media.S3PublicURL,
			UsePathStyle: cfg.Media.S3PathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to configure s3 media: %w", err)
		}
		acctCfg.Pictures = store
		logger.Info("using s3 media store", "bucket", cfg.Media.S3Bucket)
	default:
		store, err := media.NewFileStore(cfg.Media.Root, cfg.Media.URL)
		if err != nil {
			return err
		}
		acctCfg.Pictures = store
		a.MediaHandler = store.Handler()
	}

	var sender notification.Sender
	if cfg.HasSMTP() {
		sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
		logger.Info("email service enabled", "host", cfg.SMTP.Host)
	} else {
		sender = notification.NewLogSender(logger)
		logger.Warn("SMTP_HOST not set; emails are logged instead of sent")
	}
	acctCfg.Mailer = notification.NewMailer(sender, notification.MailerConfig{
		ConfirmURL:      cfg.ConfirmURL,
		ResetURL:        cfg.ResetURL,
		ConfirmationTTL: cfg.ConfirmationTokenTTL,
		ResetTTL:        cfg.PasswordResetTokenTTL,
	})

	a.Accounts, err = accounts.New(ctx, acctCfg)
	return err
}

// Router builds the HTTP handler with the configured hardening.
func (a *App) Router() http.Handler {
	return httpserver.NewRouter(httpserver.RouterConfig{
		Logger:          a.logger,
		AccountService:  a.Accounts.AccountService(),
		ProfileService:  a.Accounts.ProfileService(),
		RateLimit:       a.cfg.RateLimit,
		SecurityHeaders: a.cfg.SecurityHeaders,
		MaxRequestBytes: a.cfg.MaxRequestBytes,
		MaxUploadBytes:  a.cfg.Media.MaxPictureSize + uploadOverhead,
		MediaHandler:    a.MediaHandler,
		HealthCheck:     a.HealthCheck,
	})
}

// HealthCheck pings every backend the app holds.
func (a *App) HealthCheck(r *http.Request) error {
	if err := a.Accounts.HealthCheck(r); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if a.Redis != nil {
		if err := a.Redis.Ping(r.Context()).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the database and redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
