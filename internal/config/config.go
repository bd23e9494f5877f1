// Package config loads runtime settings from .env, the environment and
// command-line flags, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/database"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/logging"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds everything the server needs to start.
type Config struct {
	Port            string
	Store           string
	Database        database.Config
	ShutdownTimeout time.Duration

	// Capacity and waitlist.
	VendorCeiling    int
	ClaimWindow      time.Duration
	SweepInterval    time.Duration // 0 disables the in-process sweeper
	AutoPromote      bool
	CategoryCacheTTL time.Duration
	NodeID           int64

	// Secrets.
	CronSecret string
	AdminToken string

	// Rate limiting of public signup endpoints.
	RedisURL   string
	RateLimit  int
	RateWindow time.Duration

	// Applicant notifications.
	NotifyRelayURL string
	NotifyRelayKey string
	NotifyTimeout  time.Duration

	LogLevel     string
	LogDev       bool
	LogVerbosity int
}

// Load reads .env (if present), then the environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Port:  getEnv("PORT", "8080"),
		Store: getEnv("STORE", StorePostgres),
		Database: database.Config{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			DBName:          getEnv("DB_NAME", "vendordirectory"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConns:        int32(getInt("DB_MAX_CONNS", 10)),
			MinConns:        int32(getInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime: getDuration("DB_CONN_MAX_LIFE", 30*time.Minute),
			MaxConnIdleTime: getDuration("DB_CONN_MAX_IDLE", 5*time.Minute),
			ConnectAttempts: getInt("DB_CONNECT_ATTEMPTS", 5),
		},
		ShutdownTimeout:  getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		VendorCeiling:    getInt("VENDOR_CEILING", 300),
		ClaimWindow:      getDuration("CLAIM_WINDOW", 7*24*time.Hour),
		SweepInterval:    getDuration("SWEEP_INTERVAL", 0),
		AutoPromote:      getBool("AUTO_PROMOTE_ON_RELEASE", true),
		CategoryCacheTTL: getDuration("CATEGORY_CACHE_TTL", 5*time.Minute),
		NodeID:           int64(getInt("SNOWFLAKE_NODE", 1)),
		CronSecret:       strings.TrimSpace(os.Getenv("CRON_SECRET")),
		AdminToken:       strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		RedisURL:         getEnv("REDIS_URL", ""),
		RateLimit:        getInt("RATE_LIMIT", 10),
		RateWindow:       getDuration("RATE_WINDOW", time.Minute),
		NotifyRelayURL:   getEnv("NOTIFY_RELAY_URL", ""),
		NotifyRelayKey:   strings.TrimSpace(os.Getenv("NOTIFY_RELAY_KEY")),
		NotifyTimeout:    getDuration("NOTIFY_TIMEOUT", 5*time.Second),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogDev:           getBool("LOG_DEV", false),
	}

	flags := pflag.NewFlagSet("vendor-directory", pflag.ContinueOnError)
	cfg.AddFlags(flags)
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AddFlags binds the overridable settings to fs.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Port, "port", c.Port, "HTTP listen port.")
	fs.StringVar(&c.Store, "store", c.Store, "Storage backend: postgres or memory.")
	fs.StringVar(&c.Database.URL, "database-url", c.Database.URL, "PostgreSQL connection URL; overrides DB_* settings.")
	fs.IntVar(&c.VendorCeiling, "vendor-ceiling", c.VendorCeiling, "Maximum number of concurrently active vendors.")
	fs.DurationVar(&c.ClaimWindow, "claim-window", c.ClaimWindow, "How long a notified applicant may claim a slot.")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval of the in-process expiry sweep; 0 disables it.")
	fs.BoolVar(&c.AutoPromote, "auto-promote", c.AutoPromote, "Promote the next waitlist entry when a vendor is deactivated.")
	fs.StringVar(&c.RedisURL, "redis-url", c.RedisURL, "Redis URL for shared rate limiting; in-memory when empty.")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: info, verbose, debug, trace or a number.")
	fs.BoolVar(&c.LogDev, "log-dev", c.LogDev, "Use the human-readable development encoder.")
	fs.Int64Var(&c.NodeID, "node-id", c.NodeID, "Snowflake node id of this instance (0-1023).")
}

// Validate checks for invalid or conflicting values and resolves LogVerbosity.
func (c *Config) Validate() error {
	var problems []string
	if c.Store != StorePostgres && c.Store != StoreMemory {
		problems = append(problems, fmt.Sprintf("store must be %q or %q, got %q", StorePostgres, StoreMemory, c.Store))
	}
	if c.VendorCeiling <= 0 {
		problems = append(problems, "VENDOR_CEILING must be positive")
	}
	if c.ClaimWindow <= 0 {
		problems = append(problems, "CLAIM_WINDOW must be positive")
	}
	if c.SweepInterval < 0 {
		problems = append(problems, "SWEEP_INTERVAL must not be negative")
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		problems = append(problems, "RATE_LIMIT and RATE_WINDOW must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		problems = append(problems, "SNOWFLAKE_NODE must be between 0 and 1023")
	}
	v, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		problems = append(problems, err.Error())
	}
	c.LogVerbosity = v

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
