package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported STORE_BACKEND values.
const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// service config, read once at startup
type Config struct {
	Port     string
	LogLevel string

	StoreBackend    string
	RedisAddr       string
	MongoURI        string
	MongoDB         string
	MongoCollection string
	SQLitePath      string
	DatabaseURL     string

	JWTSecret         string
	AllowedOrigins    []string
	RoomEventsChannel string

	PersistWorkers int
	PersistQueue   int
	PersistTimeout time.Duration
	HydrateTimeout time.Duration
	InboxSize      int

	WSRatePerSec float64
	WSRateBurst  int
}

// loads configuration from environment variables
func LoadConfig() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:              getEnvOrDefault("PORT", "8080"),
		LogLevel:          strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		StoreBackend:      strings.ToLower(getEnvOrDefault("STORE_BACKEND", BackendMemory)),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDB:           getEnvOrDefault("MONGO_DB", "livecollab"),
		MongoCollection:   getEnvOrDefault("MONGO_COLLECTION", "rooms"),
		SQLitePath:        getEnvOrDefault("SQLITE_PATH", "livecollab.db"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AllowedOrigins:    splitList(getEnvOrDefault("ALLOWED_ORIGINS", "*")),
		RoomEventsChannel: getEnvOrDefault("ROOM_EVENTS_CHANNEL", "room_sessions"),
	}

	cfg.PersistWorkers = getIntEnv("PERSIST_WORKERS", 4, &errs)
	cfg.PersistQueue = getIntEnv("PERSIST_QUEUE", 256, &errs)
	cfg.PersistTimeout = getDurationEnv("PERSIST_TIMEOUT", 5*time.Second, &errs)
	cfg.HydrateTimeout = getDurationEnv("HYDRATE_TIMEOUT", 5*time.Second, &errs)
	cfg.InboxSize = getIntEnv("INBOX_SIZE", 1024, &errs)
	cfg.WSRateBurst = getIntEnv("WS_RATE_BURST", 100, &errs)

	rate, err := strconv.ParseFloat(getEnvOrDefault("WS_RATE_PER_SEC", "50"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("WS_RATE_PER_SEC: %w", err))
	}
	cfg.WSRatePerSec = rate

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateConfig(cfg *Config) error {
	switch cfg.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendMongo:
		if cfg.MongoURI == "" {
			return errors.New("MONGO_URI is required for the mongo backend")
		}
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres backend")
		}
	default:
		return errors.New("unsupported store backend: " + cfg.StoreBackend)
	}

	if cfg.PersistWorkers <= 0 {
		return errors.New("PERSIST_WORKERS must be positive")
	}
	if cfg.PersistQueue <= 0 || cfg.InboxSize <= 0 {
		return errors.New("PERSIST_QUEUE and INBOX_SIZE must be positive")
	}
	if cfg.PersistTimeout <= 0 || cfg.HydrateTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if cfg.WSRatePerSec <= 0 || cfg.WSRateBurst <= 0 {
		return errors.New("websocket rate limits must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func getDurationEnv(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
