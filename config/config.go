// Package config loads service configuration from environment variables
// and an optional .env file.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	Environment string
	DBPath      string
	Port        string
	// MaskSecret salts the email token hash. It must be stable across
	// runs: a rotated secret changes every token and the Type 2 merge
	// would read the change as a contact-detail update for all customers.
	MaskSecret string
}

// ErrMaskSecretRequired is returned when MASK_SECRET is unset or blank.
var ErrMaskSecretRequired = errors.New("MASK_SECRET must be set")

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "cost-warehouse"),
		Environment: getenv("ENVIRONMENT", "development"),
		DBPath:      getenv("DATABASE_PATH", "./data/warehouse.db"),
		Port:        getenv("PORT", "8080"),
		MaskSecret:  strings.TrimSpace(getenv("MASK_SECRET", "")),
	}
	if cfg.MaskSecret == "" {
		return Config{}, ErrMaskSecretRequired
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
