package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 9090, cfg.MetricsPort)
	assert.Equal(t, "auction-ledger.log", cfg.LedgerPath)
	assert.False(t, cfg.UseRedis)
	assert.Equal(t, 24*time.Hour, cfg.EndingWindow)
	assert.Equal(t, 200*time.Millisecond, cfg.BusyTimeout)
	assert.Equal(t, 12*time.Hour, cfg.Retention)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("USE_REDIS", "true")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ENDING_WINDOW", "1h")
	t.Setenv("BUSY_TIMEOUT", "50ms")

	cfg := Load()
	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.UseRedis)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, time.Hour, cfg.EndingWindow)
	assert.Equal(t, 50*time.Millisecond, cfg.BusyTimeout)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("ENDING_WINDOW", "sometime")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.EndingWindow)
}
