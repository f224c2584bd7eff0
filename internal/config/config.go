// Package config provides configuration loading and validation for the
// analytics service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
)

// Config holds all configuration values for the analytics service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Cross-origin access. Empty disables CORS handling entirely.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (job queue)
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`

	// Ingestion
	WorkerConcurrency int `koanf:"worker_concurrency"`

	// Rollup and retention
	RollupSchedule  string `koanf:"rollup_schedule"`
	CleanupSchedule string `koanf:"cleanup_schedule"`
	RetentionDays   int    `koanf:"retention_days"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required in production")
	ErrMissingRedisAddr   = errors.New("REDIS_ADDR is required in production")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidSchedule    = errors.New("schedule must be a valid cron expression")
	ErrInvalidRetention   = errors.New("RETENTION_DAYS must be at least 1")
	ErrInvalidConcurrency = errors.New("WORKER_CONCURRENCY must be at least 1")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultWorkerConcurrency = 4
	DefaultRollupSchedule    = "5 0 * * *"  // daily, shortly after midnight UTC
	DefaultCleanupSchedule   = "30 1 * * *" // daily, after the rollup has settled
	DefaultRetentionDays     = 90
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Parse port from env, collecting error if invalid
	// Try ANALYTICS_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"ANALYTICS_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	concurrency, concErr := getEnvIntOrDefault("WORKER_CONCURRENCY", k.Int("worker_concurrency"), DefaultWorkerConcurrency)
	if concErr != nil {
		loadErrs = append(loadErrs, concErr)
	}

	retention, retErr := getEnvIntOrDefault("RETENTION_DAYS", k.Int("retention_days"), DefaultRetentionDays)
	if retErr != nil {
		loadErrs = append(loadErrs, retErr)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"ANALYTICS_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		AllowedOrigins:    getOriginsList("ALLOWED_ORIGINS", k, "allowed_origins"),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:         getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:     getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		WorkerConcurrency: concurrency,
		RollupSchedule:    getEnvOrDefault("ROLLUP_SCHEDULE", k.String("rollup_schedule"), DefaultRollupSchedule),
		CleanupSchedule:   getEnvOrDefault("CLEANUP_SCHEDULE", k.String("cleanup_schedule"), DefaultCleanupSchedule),
		RetentionDays:     retention,
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getOriginsList reads a comma-separated origin list from the environment,
// falling back to a YAML list in the config file. Entries are trimmed and
// empties dropped.
func getOriginsList(envKey string, k *koanf.Koanf, koanfKey string) []string {
	var raw []string
	if val := os.Getenv(envKey); val != "" {
		raw = strings.Split(val, ",")
	} else {
		raw = k.Strings(koanfKey)
	}

	var origins []string
	for _, o := range raw {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
// Note: A value of 0 from a YAML file falls back to the default.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present and
// well-formed. Returns a slice of validation errors (empty if valid).
//
// DATABASE_URL and REDIS_ADDR are only required in production; in
// development the service falls back to in-memory stores and queues.
func (c *Config) Validate() []error {
	var errs []error

	if c.Env == "production" {
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
		if c.RedisAddr == "" {
			errs = append(errs, ErrMissingRedisAddr)
		}
	}

	if c.WorkerConcurrency < 1 {
		errs = append(errs, ErrInvalidConcurrency)
	}
	if c.RetentionDays < 1 {
		errs = append(errs, ErrInvalidRetention)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.RollupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("ROLLUP_SCHEDULE %q: %w", c.RollupSchedule, ErrInvalidSchedule))
	}
	if _, err := parser.Parse(c.CleanupSchedule); err != nil {
		errs = append(errs, fmt.Errorf("CLEANUP_SCHEDULE %q: %w", c.CleanupSchedule, ErrInvalidSchedule))
	}

	return errs
}

// Retention returns the raw-event retention window as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":               fmt.Sprintf("%d", c.Port),
		"env":                c.Env,
		"allowed_origins":    strings.Join(c.AllowedOrigins, ","),
		"database_url":       maskDatabaseURL(c.DatabaseURL),
		"redis_addr":         c.RedisAddr,
		"redis_password":     maskSecret(c.RedisPassword),
		"worker_concurrency": fmt.Sprintf("%d", c.WorkerConcurrency),
		"rollup_schedule":    c.RollupSchedule,
		"cleanup_schedule":   c.CleanupSchedule,
		"retention_days":     fmt.Sprintf("%d", c.RetentionDays),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	// Simple approach: find :// and then mask between : and @
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	// Reconstruct URL with masked password
	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
