// Package config loads the service configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultAppPort       = "8080"
	DefaultAccessTTL     = 24 * time.Hour
	DefaultRefreshTTL    = 7 * 24 * time.Hour
	DefaultCleanupSpec   = "0 2 * * *"
	DefaultRateAttempts  = 30
	DefaultRateWindow    = time.Minute
	DefaultShutdownGrace = 15 * time.Second

	// HS256 keys shorter than this are brute-forceable; refuse to start.
	minSecretBytes = 32
)

type Config struct {
	AppPort        string
	AllowedOrigins []string

	JWTSecret  []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CleanupSpec string

	RateLimitEnabled  bool
	RateLimitAttempts int
	RateLimitWindow   time.Duration

	MetricsEnabled bool
	AuditLogPath   string

	ShutdownGrace time.Duration
}

// Load reads the environment. A .env file in the working directory is applied
// first so local runs match deployed ones. JWT_SECRET is the only hard
// requirement; everything else has a sane default.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("config: load .env: %w", err)
		}
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET env var is missing")
	}
	if len(secret) < minSecretBytes {
		return nil, fmt.Errorf("config: JWT_SECRET must be at least %d bytes", minSecretBytes)
	}

	accessTTL, err := durationEnv("ACCESS_TOKEN_TTL", DefaultAccessTTL)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := durationEnv("REFRESH_TOKEN_TTL", DefaultRefreshTTL)
	if err != nil {
		return nil, err
	}
	rateWindow, err := durationEnv("RATE_LIMIT_WINDOW", DefaultRateWindow)
	if err != nil {
		return nil, err
	}
	shutdownGrace, err := durationEnv("SHUTDOWN_GRACE", DefaultShutdownGrace)
	if err != nil {
		return nil, err
	}

	dbPort, err := intEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}
	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	rateAttempts, err := intEnv("RATE_LIMIT_ATTEMPTS", DefaultRateAttempts)
	if err != nil {
		return nil, err
	}

	return &Config{
		AppPort:           stringEnv("APP_PORT", DefaultAppPort),
		AllowedOrigins:    listEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		JWTSecret:         []byte(secret),
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
		DBHost:            stringEnv("DB_HOST", "localhost"),
		DBPort:            dbPort,
		DBUser:            stringEnv("DB_USER", "postgres"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBName:            stringEnv("DB_NAME", "bloomkart"),
		DBSSLMode:         stringEnv("DB_SSLMODE", "disable"),
		RedisAddr:         stringEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           redisDB,
		CleanupSpec:       stringEnv("CLEANUP_SCHEDULE", DefaultCleanupSpec),
		RateLimitEnabled:  boolEnv("RATE_LIMIT_ENABLED", true),
		RateLimitAttempts: rateAttempts,
		RateLimitWindow:   rateWindow,
		MetricsEnabled:    boolEnv("METRICS_ENABLED", true),
		AuditLogPath:      os.Getenv("AUDIT_LOG_PATH"),
		ShutdownGrace:     shutdownGrace,
	}, nil
}

// DSN builds the pgx connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// String renders the config for startup logs with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("  AppPort: %s\n", c.AppPort))
	sb.WriteString(fmt.Sprintf("  AllowedOrigins: %s\n", strings.Join(c.AllowedOrigins, ",")))
	sb.WriteString("  JWTSecret: ********\n")
	sb.WriteString(fmt.Sprintf("  AccessTTL: %s\n", c.AccessTTL))
	sb.WriteString(fmt.Sprintf("  RefreshTTL: %s\n", c.RefreshTTL))
	sb.WriteString(fmt.Sprintf("  DB: %s@%s:%d/%s sslmode=%s\n", c.DBUser, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode))
	if c.DBPassword != "" {
		sb.WriteString("  DBPassword: ********\n")
	} else {
		sb.WriteString("  DBPassword: (empty)\n")
	}
	sb.WriteString(fmt.Sprintf("  Redis: %s db=%d\n", c.RedisAddr, c.RedisDB))
	sb.WriteString(fmt.Sprintf("  CleanupSpec: %q\n", c.CleanupSpec))
	sb.WriteString(fmt.Sprintf("  RateLimit: enabled=%t attempts=%d window=%s\n",
		c.RateLimitEnabled, c.RateLimitAttempts, c.RateLimitWindow))
	sb.WriteString(fmt.Sprintf("  Metrics: enabled=%t\n", c.MetricsEnabled))
	return sb.String()
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func listEnv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
