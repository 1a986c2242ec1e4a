package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// RedisConfig holds Redis connection configuration.
// Implementation-specific struct name, used as purpose-generic field "Cache" in main Config.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Config holds all application configuration.
//
// Nested config structs use implementation-specific names (RedisConfig)
// while Config fields use purpose-generic names (Cache), so the backing
// implementation can change without touching call sites. Environment
// variables map to nested paths: CACHE_HOST → cfg.Cache.Host via Viper.
type Config struct {
	Port                string
	Environment         string
	CorsOrigins         string
	LogLevel            string
	HorizonBaseURL      string
	AssetCatalogBaseURL string
	PriceUpdateSchedule string
	Cache               RedisConfig
}

func LoadConfig() (*Config, error) {
	// Set config file name and paths
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../../")

	// Allow reading from environment variables
	viper.AutomaticEnv()
	// Map environment variables like CACHE_HOST to nested config paths like "cache.host"
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	setDefaults()

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	config := &Config{
		Port:        viper.GetString("PORT"),
		Environment: viper.GetString("ENVIRONMENT"),
		CorsOrigins: viper.GetString("CORS_ORIGINS"),
		LogLevel:    viper.GetString("LOG_LEVEL"),

		HorizonBaseURL:      viper.GetString("HORIZON_BASE_URL"),
		AssetCatalogBaseURL: viper.GetString("ASSET_CATALOG_BASE_URL"),
		PriceUpdateSchedule: viper.GetString("PRICE_UPDATE_SCHEDULE"),

		Cache: RedisConfig{
			Host:     viper.GetString("cache.host"),
			Port:     viper.GetString("cache.port"),
			Password: viper.GetString("cache.password"),
			DB:       viper.GetInt("cache.db"),
		},
	}

	return config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("CORS_ORIGINS", "*")
	viper.SetDefault("LOG_LEVEL", "info")

	// Cache defaults (maps to RedisConfig via "cache.*")
	viper.SetDefault("cache.host", "localhost")
	viper.SetDefault("cache.port", "6379")
	viper.SetDefault("cache.password", "")
	viper.SetDefault("cache.db", 0)

	// Upstream API defaults
	viper.SetDefault("HORIZON_BASE_URL", "https://horizon.stellar.org")
	viper.SetDefault("ASSET_CATALOG_BASE_URL", "https://api.stellar.expert")

	// Background job defaults (six-field cron expression, seconds first)
	viper.SetDefault("PRICE_UPDATE_SCHEDULE", "0 * * * * *")
}
