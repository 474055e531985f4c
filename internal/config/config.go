package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sujalbistaa/rankfeed/internal/models"
)

type Config struct {
	Port         string
	DatabaseURL  string
	CorsOrigin   string
	AdminToken   string
	Env          string // "local" or "prod"
	PollInterval time.Duration

	BlobBackend string // "db", "mongo" or "redis"
	MongoURI    string
	MongoDB     string
	RedisAddr   string
	NatsURL     string // empty disables the event relay

	// Seed for the weight config row when the ledger has none yet.
	Weights models.WeightConfig
}

// Load reads .env (if present) and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		// Production sets variables directly.
		slog.Debug("No .env file found, reading from environment")
	}

	return Config{
		Port:         getEnv("PORT", "8080"),
		DatabaseURL:  getEnv("DATABASE_URL", "sqlite://rankfeed.db"),
		CorsOrigin:   getEnv("CORS_ORIGIN", "*"),
		AdminToken:   getEnv("X_ADMIN_TOKEN", ""),
		Env:          getEnv("APP_ENV", "local"),
		PollInterval: getDuration("POLL_INTERVAL", 100*time.Millisecond),
		BlobBackend:  getEnv("BLOB_BACKEND", "db"),
		MongoURI:     getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:      getEnv("MONGO_DB", "rankfeed"),
		RedisAddr:    getEnv("REDIS_ADDR", "localhost:6379"),
		NatsURL:      getEnv("NATS_URL", ""),
		Weights: models.WeightConfig{
			LikesWeightMultiplier:    getInt("WEIGHT_LIKES", 1),
			DislikesWeightMultiplier: getInt("WEIGHT_DISLIKES", 1),
			OldWeightMultiplier:      getInt("WEIGHT_OLD", 0),
			WeightThreshold:          getInt("WEIGHT_THRESHOLD", 10),
			InitialWeight:            getInt("WEIGHT_INITIAL", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("Ignoring invalid integer setting", "key", key, "value", v)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("Ignoring invalid duration setting", "key", key, "value", v)
		return fallback
	}
	return d
}
