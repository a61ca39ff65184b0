package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// HTTP server
	ServerPort string

	// Provider defaults (overridable per request)
	DefaultProvider string
	DefaultModel    string
	DefaultBaseURL  string
	OllamaHost      string

	// Stall monitor
	StallInterval  time.Duration
	StallThreshold time.Duration

	// Job pipeline ceilings
	MaxConcurrency int

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "tracedesk"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "curation"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		ServerPort: getEnv("TRACEDESK_PORT", "8585"),

		DefaultProvider: getEnv("TRACEDESK_PROVIDER", "chat"),
		DefaultModel:    getEnv("TRACEDESK_MODEL", ""),
		DefaultBaseURL:  getEnv("TRACEDESK_BASE_URL", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),

		StallInterval:  getEnvDuration("TRACEDESK_STALL_INTERVAL", time.Minute),
		StallThreshold: getEnvDuration("TRACEDESK_STALL_THRESHOLD", 5*time.Minute),

		MaxConcurrency: getEnvInt("TRACEDESK_MAX_CONCURRENCY", 8),

		LogFile:  getEnv("TRACEDESK_LOG_FILE", "/tmp/tracedesk.log"),
		LogLevel: parseLogLevel(getEnv("TRACEDESK_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
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
