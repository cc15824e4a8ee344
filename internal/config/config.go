package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Token store backends
const (
	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
	TokenStoreMemory   = "memory"
)

// Media backends
const (
	MediaLocal = "local"
	MediaS3    = "s3"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr      string
	ServerPort      int
	ShutdownTimeout time.Duration
	// AppBaseURL is the public origin used in emailed links.
	AppBaseURL string
	// ConfirmURL and ResetURL override the emailed link targets, e.g. to
	// point at a frontend instead of the API.
	ConfirmURL string
	ResetURL   string

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	DBMaxConns  int
	AutoMigrate bool

	// Tokens
	TokenStore            string
	Redis                 RedisConfig
	AuthTokenTTL          time.Duration
	ConfirmationTokenTTL  time.Duration
	PasswordResetTokenTTL time.Duration

	// Email
	SMTP SMTPConfig

	// Media
	Media MediaConfig

	// HTTP hardening
	CORSAllowedOrigins []string
	MaxRequestBytes    int64
	RateLimit          RateLimitConfig
	SecurityHeaders    SecurityHeadersConfig

	// Accounts
	PasswordPolicy       PasswordPolicyConfig
	StrictEmail          bool
	BlockDisposableEmail bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// SMTPConfig configures outgoing mail. An empty Host logs messages instead
// of sending them.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	FromName string
}

type MediaConfig struct {
	Backend        string
	Root           string
	URL            string
	MaxPictureSize int64
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3PublicURL    string
	S3PathStyle    bool
}

// RateLimitConfig holds per-IP limits for the unauthenticated endpoints.
type RateLimitConfig struct {
	Enabled                  bool
	AuthRequestsPerMinute    int
	AuthWindowMinutes        int
	ResetRequestsPerWindow   int
	ResetWindowMinutes       int
	ConfirmRequestsPerWindow int
	ConfirmWindowMinutes     int
}

type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr:      getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort:      getEnvInt("SERVER_PORT", 8080),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		AppBaseURL:      strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),

		// Database defaults (matches podman setup: make postgres-start)
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 25432),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", "postgres"),
		DBName:      getEnv("DB_NAME", "simple_accounts"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),
		DBMaxConns:  getEnvInt("DB_MAX_CONNS", 10),
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),

		// Token defaults
		TokenStore: getEnv("TOKEN_STORE", TokenStorePostgres),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "acct"),
		},
		AuthTokenTTL:          getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour),
		ConfirmationTokenTTL:  getEnvDuration("CONFIRMATION_TOKEN_TTL", 0),
		PasswordResetTokenTTL: getEnvDuration("PASSWORD_RESET_TOKEN_TTL", time.Hour),

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvInt("SMTP_PORT", 587),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@localhost"),
			FromName: getEnv("SMTP_FROM_NAME", ""),
		},

		Media: MediaConfig{
			Backend:        getEnv("MEDIA_BACKEND", MediaLocal),
			Root:           getEnv("MEDIA_ROOT", "./media"),
			URL:            getEnv("MEDIA_URL", ""),
			MaxPictureSize: getEnvInt64("MAX_PICTURE_SIZE", 5<<20),
			S3Bucket:       getEnv("S3_BUCKET", ""),
			S3Region:       getEnv("S3_REGION", "us-east-1"),
			S3Endpoint:     getEnv("S3_ENDPOINT", ""),
			S3AccessKey:    getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey:    getEnv("S3_SECRET_KEY", ""),
			S3PublicURL:    getEnv("S3_PUBLIC_URL", ""),
			S3PathStyle:    getEnvBool("S3_PATH_STYLE", false),
		},

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		MaxRequestBytes:    getEnvInt64("MAX_REQUEST_BYTES", 1<<20),
		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:    getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:        getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			ResetRequestsPerWindow:   getEnvInt("RATE_LIMIT_RESET_REQUESTS", 5),
			ResetWindowMinutes:       getEnvInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 15),
			ConfirmRequestsPerWindow: getEnvInt("RATE_LIMIT_CONFIRM_REQUESTS", 10),
			ConfirmWindowMinutes:     getEnvInt("RATE_LIMIT_CONFIRM_WINDOW_MINUTES", 15),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'none'; frame-ancestors 'none'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 0),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_CONTENT_TYPE_OPTIONS", "nosniff"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "no-referrer"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
		},

		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", false),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", false),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", false),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},
		StrictEmail:          getEnvBool("EMAIL_STRICT", false),
		BlockDisposableEmail: getEnvBool("EMAIL_BLOCK_DISPOSABLE", false),
	}

	cfg.ConfirmURL = getEnv("CONFIRM_URL", cfg.AppBaseURL+"/v1/accounts/confirm")
	cfg.ResetURL = getEnv("RESET_URL", cfg.AppBaseURL+"/v1/accounts/password/reset")
	if cfg.Media.URL == "" {
		cfg.Media.URL = cfg.AppBaseURL + "/media"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch c.TokenStore {
	case TokenStorePostgres, TokenStoreRedis, TokenStoreMemory:
	default:
		return fmt.Errorf("TOKEN_STORE must be one of postgres, redis, memory; got %q", c.TokenStore)
	}
	switch c.Media.Backend {
	case MediaLocal:
	case MediaS3:
		if c.Media.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when MEDIA_BACKEND=s3")
		}
	default:
		return fmt.Errorf("MEDIA_BACKEND must be one of local, s3; got %q", c.Media.Backend)
	}
	if c.AuthTokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}
	if c.PasswordResetTokenTTL <= 0 {
		return fmt.Errorf("PASSWORD_RESET_TOKEN_TTL must be positive")
	}
	if c.ConfirmationTokenTTL < 0 {
		return fmt.Errorf("CONFIRMATION_TOKEN_TTL must not be negative")
	}
	if c.Media.MaxPictureSize <= 0 {
		return fmt.Errorf("MAX_PICTURE_SIZE must be positive")
	}
	return nil
}

// DSN returns the Postgres connection string. DATABASE_URL wins over the
// individual DB_* settings.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerAddr, c.ServerPort)
}

// HasSMTP returns true if an SMTP relay is configured.
func (c *Config) HasSMTP() bool {
	return c.SMTP.Host != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
