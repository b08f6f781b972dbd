package config

import (
	"os"
	"strconv"

	"github.com/hiroki-koketsu/go-todo-store/internal/kvstore"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	ServerPort string

	// OpenTelemetry settings
	OTELEnabled  bool
	OTLPEndpoint string
	ServiceName  string
	Environment  string

	// Task list storage
	StorageKey string
	Store      kvstore.Config
}

// Load returns configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", true),
		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:  getEnv("OTEL_SERVICE_NAME", "go-todo-store"),
		Environment:  getEnv("ENVIRONMENT", "development"),
		StorageKey:   getEnv("STORE_KEY", "todos"),
		Store: kvstore.Config{
			Backend:       getEnv("STORE_BACKEND", kvstore.BackendFile),
			FilePath:      getEnv("STORE_FILE_PATH", "todos.json"),
			SQLitePath:    getEnv("STORE_SQLITE_PATH", "todos.db"),
			SQLiteDebug:   getEnvBool("DB_DEBUG", false),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisPrefix:   getEnv("REDIS_PREFIX", "todo:"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}
