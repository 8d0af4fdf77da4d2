// Package config loads the pipeline's environment-driven configuration:
// Redis connectivity, the HTTP gateway, the chat bot, and the external
// scraping/inference tokens consumed by the worker pool.
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Redis      RedisConfig      `json:"redis"`
	Bot        BotConfig        `json:"bot"`
	External   ExternalConfig   `json:"external"`
	Database   DatabaseConfig   `json:"database"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
}

type ServerConfig struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Environment  string `json:"environment"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	AllowedOrigin string `json:"allowed_origin"`
}

type RedisConfig struct {
	URL string `json:"url"`
	SSL bool   `json:"ssl"`
}

type BotConfig struct {
	TelegramToken string `json:"telegram_token"`
}

type ExternalConfig struct {
	ApifyToken string `json:"apify_token"`
	HFToken    string `json:"hf_token"`
}

type DatabaseConfig struct {
	URL             string `json:"url"`
	MaxConnections  int    `json:"max_connections"`
	MaxIdleTime     int    `json:"max_idle_time"`
	ConnMaxLifetime int    `json:"conn_max_lifetime"`
}

type RateLimitConfig struct {
	UserRPS       int `json:"user_rps"`
	BurstSize     int `json:"burst_size"`
	MaxConcurrent int `json:"max_concurrent"`
}

// requiredEnvVars are the environment variables spec §6 names as
// mandatory; absence of any is a fatal startup error (Config kind).
var requiredEnvVars = []string{
	"REDIS_URL",
	"API_HOST",
	"TELEGRAM_TOKEN",
	"APIFY_TOKEN",
	"HF_TOKEN",
	"ALLOWED_ORIGIN",
}

func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		slog.Info("No .env file found in current directory, trying relative paths", "error", err)
		if err := godotenv.Load("../.env"); err != nil {
			slog.Warn("No .env file found, using environment variables", "error", err)
		}
	} else {
		slog.Info(".env file loaded successfully")
	}

	viper.SetEnvPrefix("WORTHIT")
	viper.AutomaticEnv()

	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		slog.Debug("No YAML config file found, using environment variables and defaults")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_SSL"); v != "" {
		cfg.Redis.SSL = v == "true" || v == "1"
	}
	if v := os.Getenv("API_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Bot.TelegramToken = v
	}
	if v := os.Getenv("APIFY_TOKEN"); v != "" {
		cfg.External.ApifyToken = v
	}
	if v := os.Getenv("HF_TOKEN"); v != "" {
		cfg.External.HFToken = v
	}
	if v := os.Getenv("ALLOWED_ORIGIN"); v != "" {
		cfg.Server.AllowedOrigin = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}

	slog.Info("Configuration loaded",
		"server_host", cfg.Server.Host,
		"environment", cfg.Server.Environment)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.allowed_origin", "*")

	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("redis.ssl", false)

	viper.SetDefault("database.url", "")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", 15)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("rate_limit.user_rps", 10)
	viper.SetDefault("rate_limit.burst_size", 20)
	viper.SetDefault("rate_limit.max_concurrent", 100)

	viper.BindEnv("redis.url", "REDIS_URL")
	viper.BindEnv("redis.ssl", "REDIS_SSL")
	viper.BindEnv("server.host", "API_HOST")
	viper.BindEnv("server.allowed_origin", "ALLOWED_ORIGIN")
	viper.BindEnv("server.environment", "GO_ENV")
	viper.BindEnv("bot.telegram_token", "TELEGRAM_TOKEN")
	viper.BindEnv("external.apify_token", "APIFY_TOKEN")
	viper.BindEnv("external.hf_token", "HF_TOKEN")
	viper.BindEnv("database.url", "DATABASE_URL")
}

func validateConfig(cfg *Config) error {
	for _, name := range requiredEnvVars {
		if os.Getenv(name) == "" {
			return fmt.Errorf("%s environment variable is required", name)
		}
	}

	slog.Debug("Config validation",
		"has_redis_url", cfg.Redis.URL != "",
		"has_telegram_token", cfg.Bot.TelegramToken != "")

	return nil
}
