package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName           string
	AppEnv            string
	AppPort           string
	DatabaseDriver    string
	DatabaseURL       string
	RedisURL          string
	NATSURL           string
	NATSSubjectPrefix string
	JWTSecret         string
	DefaultTenant     string
	UploadMaxSizeMB   int
	CacheTTL          time.Duration
	ImportLockTTL     time.Duration
	LogLevel          string
	UploadsPerMinute  int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// IsDevelopment reports whether the service runs in a local development environment.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "" || c.AppEnv == "development" || c.AppEnv == "local"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GRADEBOOK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Grade Insight API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("nats.subject_prefix", "gradebook")
	v.SetDefault("tenant.default", "admin")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("import.lock_ttl", "2m")
	v.SetDefault("log.level", "info")
	v.SetDefault("rate_limit.uploads_per_minute", 30)

	cacheTTL, err := time.ParseDuration(v.GetString("cache.ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid cache ttl: %w", err)
	}

	lockTTL, err := time.ParseDuration(v.GetString("import.lock_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid import lock ttl: %w", err)
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            strings.ToLower(v.GetString("app.env")),
		AppPort:           v.GetString("app.port"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		NATSSubjectPrefix: v.GetString("nats.subject_prefix"),
		JWTSecret:         v.GetString("jwt.secret"),
		DefaultTenant:     strings.ToLower(strings.TrimSpace(v.GetString("tenant.default"))),
		UploadMaxSizeMB:   v.GetInt("upload.max_size_mb"),
		CacheTTL:          cacheTTL,
		ImportLockTTL:     lockTTL,
		LogLevel:          strings.ToLower(v.GetString("log.level")),
		UploadsPerMinute:  v.GetInt("rate_limit.uploads_per_minute"),
	}

	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.DatabaseURL == "" {
		if cfg.DatabaseDriver != DriverSQLite {
			return Config{}, fmt.Errorf("database url must be provided")
		}
		cfg.DatabaseURL = "file:gradebook.db?cache=shared"
	}

	if cfg.DefaultTenant == "" {
		return Config{}, fmt.Errorf("default tenant must not be empty")
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 10
	}

	if cfg.UploadsPerMinute <= 0 {
		cfg.UploadsPerMinute = 30
	}

	return cfg, nil
}
