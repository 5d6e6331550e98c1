package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/unuxt/unuxt/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	Auth     AuthConfig
	OAuth    OAuthConfig

	// Logging
	LogLevel observability.LogLevel

	// MetricsEnabled exposes /metrics on the health port
	MetricsEnabled bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// BaseURL is the externally visible URL used in email deep links
	BaseURL string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration for rate limiting
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// SMTPConfig holds outbound email configuration
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromName  string
	FromEmail string
}

// AuthConfig holds session, token, and password policy settings
type AuthConfig struct {
	SessionTTL        time.Duration
	SessionUpdateAge  time.Duration
	InvitationTTL     time.Duration
	MagicLinkTTL      time.Duration
	VerificationTTL   time.Duration
	PasswordResetTTL  time.Duration
	BreachCheck       bool
	RateLimitWindow   time.Duration
	RateLimitRequests int
}

// OAuthConfig holds social login provider credentials. A provider is
// enabled when both its client ID and secret are set.
type OAuthConfig struct {
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
}

// GoogleEnabled reports whether Google social login is configured.
func (c OAuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// GitHubEnabled reports whether GitHub social login is configured.
func (c OAuthConfig) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("UNUXT_HOST", "0.0.0.0"),
			Port:            getEnv("UNUXT_PORT", "8080"),
			ReadTimeout:     getEnvDuration("UNUXT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("UNUXT_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("UNUXT_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("UNUXT_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("UNUXT_HEALTH_PORT", "9090"),
			BaseURL:         strings.TrimRight(getEnv("UNUXT_BASE_URL", "http://localhost:3000"), "/"),
		},
		Database: DatabaseConfig{
			URL:         getEnv("UNUXT_POSTGRES_URL", ""),
			MaxConns:    getEnvInt("UNUXT_POSTGRES_MAX_CONNS", 25),
			MinConns:    getEnvInt("UNUXT_POSTGRES_MIN_CONNS", 5),
			Timeout:     getEnvDuration("UNUXT_POSTGRES_TIMEOUT", 10*time.Second),
			MaxLifetime: getEnvDuration("UNUXT_POSTGRES_MAX_LIFETIME", 30*time.Minute),
			MaxIdleTime: getEnvDuration("UNUXT_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("UNUXT_REDIS_URL", ""),
			Password: getEnv("UNUXT_REDIS_PASSWORD", ""),
			DB:       getEnvInt("UNUXT_REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("UNUXT_SMTP_HOST", ""),
			Port:      getEnvInt("UNUXT_SMTP_PORT", 587),
			Username:  getEnv("UNUXT_SMTP_USERNAME", ""),
			Password:  getEnv("UNUXT_SMTP_PASSWORD", ""),
			FromName:  getEnv("UNUXT_SMTP_FROM_NAME", "Unuxt"),
			FromEmail: getEnv("UNUXT_SMTP_FROM_EMAIL", "noreply@unuxt.com"),
		},
		Auth: AuthConfig{
			SessionTTL:        getEnvDuration("UNUXT_SESSION_TTL", 30*24*time.Hour),
			SessionUpdateAge:  getEnvDuration("UNUXT_SESSION_UPDATE_AGE", 24*time.Hour),
			InvitationTTL:     getEnvDuration("UNUXT_INVITATION_TTL", 7*24*time.Hour),
			MagicLinkTTL:      getEnvDuration("UNUXT_MAGIC_LINK_TTL", 15*time.Minute),
			VerificationTTL:   getEnvDuration("UNUXT_VERIFICATION_TTL", 24*time.Hour),
			PasswordResetTTL:  getEnvDuration("UNUXT_PASSWORD_RESET_TTL", time.Hour),
			BreachCheck:       getEnvBool("UNUXT_BREACH_CHECK", true),
			RateLimitWindow:   getEnvDuration("UNUXT_RATE_LIMIT_WINDOW", time.Minute),
			RateLimitRequests: getEnvInt("UNUXT_RATE_LIMIT_REQUESTS", 10),
		},
		OAuth: OAuthConfig{
			GoogleClientID:     getEnv("UNUXT_GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: getEnv("UNUXT_GOOGLE_CLIENT_SECRET", ""),
			GitHubClientID:     getEnv("UNUXT_GITHUB_CLIENT_ID", ""),
			GitHubClientSecret: getEnv("UNUXT_GITHUB_CLIENT_SECRET", ""),
		},
		LogLevel:       parseLogLevel(getEnv("UNUXT_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("UNUXT_METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive")
	}
	if c.Auth.InvitationTTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Auth.MagicLinkTTL <= 0 {
		return fmt.Errorf("magic link TTL must be positive")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
