package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// Backend endpoints
	APIURL         string `env:"API_URL" default:"http://localhost:8080"`
	WSBaseURL      string `env:"WS_BASE_URL" default:"ws://localhost:8080"`
	WSPathTemplate string `env:"WS_PATH_TEMPLATE" default:"/ws/{id}"` // {id} = numeric user id

	// Realtime connection policy
	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" default:"1s"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY" default:"30s"`
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" default:"5"`

	// Relay (development backend)
	HTTPPort       int     `env:"HTTP_PORT" default:"8080"`
	DatabaseURL    string  `env:"DATABASE_URL"` // empty = in-memory outbox
	RedisURL       string  `env:"REDIS_URL"`    // empty = single-instance fan-out
	JWTSecret      string  `env:"JWT_SECRET"`   // empty = upgrade auth disabled
	RelayRateLimit float64 `env:"RELAY_RATE_LIMIT" default:"10"`
	RelayRateBurst int     `env:"RELAY_RATE_BURST" default:"20"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// LoadConfig loads configuration from .env (if present) and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		// no .env is the normal case outside development
		slog.Debug("env_file_not_loaded", "error", err)
	}

	config := &Config{}

	loadEnvString(&config.GoEnv, "GO_ENV", "development")

	// Endpoints
	loadEnvString(&config.APIURL, "API_URL", "http://localhost:8080")
	loadEnvString(&config.WSBaseURL, "WS_BASE_URL", "ws://localhost:8080")
	loadEnvString(&config.WSPathTemplate, "WS_PATH_TEMPLATE", "/ws/{id}")

	// Connection policy
	if err := loadEnvDuration(&config.HeartbeatInterval, "HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectBaseDelay, "RECONNECT_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.ReconnectMaxDelay, "RECONNECT_MAX_DELAY", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.ReconnectMaxAttempts, "RECONNECT_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}

	// Relay
	if err := loadEnvInt(&config.HTTPPort, "HTTP_PORT", 8080); err != nil {
		return nil, err
	}
	loadEnvString(&config.DatabaseURL, "DATABASE_URL", "")
	loadEnvString(&config.RedisURL, "REDIS_URL", "")
	loadEnvString(&config.JWTSecret, "JWT_SECRET", "")
	if err := loadEnvFloat(&config.RelayRateLimit, "RELAY_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RelayRateBurst, "RELAY_RATE_BURST", 20); err != nil {
		return nil, err
	}

	// Logging
	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "text")

	return config, nil
}

// Helper functions for type conversion
func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %w", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errors = append(errors, "HTTP_PORT must be between 1 and 65535")
	}
	if !strings.Contains(c.WSPathTemplate, "{id}") {
		errors = append(errors, "WS_PATH_TEMPLATE must contain the {id} placeholder")
	}
	if !strings.HasPrefix(c.WSBaseURL, "ws://") && !strings.HasPrefix(c.WSBaseURL, "wss://") {
		errors = append(errors, "WS_BASE_URL must use the ws:// or wss:// scheme")
	}
	if c.HeartbeatInterval <= 0 {
		errors = append(errors, "HEARTBEAT_INTERVAL must be positive")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		errors = append(errors, "RECONNECT_BASE_DELAY must be positive and not exceed RECONNECT_MAX_DELAY")
	}
	if c.ReconnectMaxAttempts < 0 {
		errors = append(errors, "RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if c.RelayRateLimit <= 0 || c.RelayRateBurst < 1 {
		errors = append(errors, "RELAY_RATE_LIMIT and RELAY_RATE_BURST must be positive")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errors = append(errors, "JWT_SECRET should be at least 32 characters long")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// RelayRoute converts the websocket path template into a gin route pattern.
// "/ws/{id}" -> "/ws/:userId"
func (c *Config) RelayRoute() string {
	return strings.Replace(c.WSPathTemplate, "{id}", ":userId", 1)
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
