package config

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds all configuration values for the server.
type Config struct {
	// HTTP
	Addr string

	// PostgreSQL
	DBDSN string

	// Redis (notification channel transport)
	RedisAddr string

	// Auth
	JWTSecret string

	// Moderation service consulted before persisting message text.
	ModerationURL     string
	ModerationTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		Addr:      getEnv("ADDR", ":8080"),
		DBDSN:     os.Getenv("DB_DSN"),
		RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		ModerationURL:     getEnv("MODERATION_URL", ""),
		ModerationTimeout: getDuration("MODERATION_TIMEOUT", 3*time.Second),

		LogFile:  getEnv("PLANLINK_LOG_FILE", ""),
		LogLevel: parseLogLevel(getEnv("PLANLINK_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
