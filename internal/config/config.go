package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        int
	MetricsPort int
	GinMode     string

	LedgerPath string
	NATSUrl    string

	UseRedis bool
	Redis    RedisConfig

	// EndingWindow is how long before endAt an auction enters ending.
	EndingWindow time.Duration
	// BusyTimeout bounds the wait for an auction's admission section.
	BusyTimeout time.Duration
	// Retention keeps terminal auctions resident for settlement queries.
	Retention time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() *Config {
	useRedis, _ := strconv.ParseBool(getEnv("USE_REDIS", "false"))

	return &Config{
		Port:        getEnvInt("PORT", 8080),
		MetricsPort: getEnvInt("METRICS_PORT", 9090),
		GinMode:     getEnv("GIN_MODE", "release"),

		LedgerPath: getEnv("LEDGER_PATH", "auction-ledger.log"),
		NATSUrl:    getEnv("NATS_URL", ""),

		UseRedis: useRedis,
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       0,
		},

		EndingWindow: getEnvDuration("ENDING_WINDOW", 24*time.Hour),
		BusyTimeout:  getEnvDuration("BUSY_TIMEOUT", 200*time.Millisecond),
		Retention:    getEnvDuration("RETENTION", 12*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
