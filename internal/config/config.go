package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Store selection. StoreDriver defaults to sqlite; postgres and
	// redis require their URLs.
	StoreDriver string
	SQLitePath  string
	DatabaseURL string
	RedisURL    string

	// ResponderToken guards the pending/respond endpoints when set.
	ResponderToken string

	// AllowedOrigins restricts CORS and websocket origins when set.
	AllowedOrigins []string
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		StoreDriver:    getEnv("STORE_DRIVER", DriverSQLite),
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ResponderToken: os.Getenv("RESPONDER_TOKEN"),
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, entry := range strings.Split(origins, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, entry)
			}
		}
	}

	if cfg.Env == "production" {
		if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required with STORE_DRIVER=postgres")
		}
		if cfg.StoreDriver == DriverRedis && cfg.RedisURL == "" {
			panic("REDIS_URL is required with STORE_DRIVER=redis")
		}
		if cfg.ResponderToken == "" {
			panic("RESPONDER_TOKEN is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
