package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.Cache.UseRedis)
	assert.Equal(t, 10*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 1024, cfg.Cache.MaxSize)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "marketbroker:requests", cfg.Broker.RequestChannel)
	assert.Equal(t, "marketbroker:responses", cfg.Broker.ResponseChannel)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("USE_REDIS_CACHE", "false")
	t.Setenv("CACHE_TTL", "45s")
	t.Setenv("CACHE_MAXSIZE", "64")
	t.Setenv("LOCK_TTL", "3")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REQUEST_CHANNEL", "md:req")
	t.Setenv("RESPONSE_CHANNEL", "md:resp")
	t.Setenv("REQUEST_TIMEOUT", "5s")
	t.Setenv("WORKER_CONCURRENCY", "2")

	cfg := FromEnv()
	assert.False(t, cfg.Cache.UseRedis)
	assert.Equal(t, 45*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 64, cfg.Cache.MaxSize)
	assert.Equal(t, 3*time.Second, cfg.Cache.LockTTL)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, "md:req", cfg.Broker.RequestChannel)
	assert.Equal(t, "md:resp", cfg.Broker.ResponseChannel)
	assert.Equal(t, 5*time.Second, cfg.Broker.RequestTimeout)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func TestFromEnvBadValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_TTL", "not-a-duration")
	t.Setenv("CACHE_MAXSIZE", "many")
	t.Setenv("USE_REDIS_CACHE", "maybe")

	cfg := FromEnv()
	def := Default()
	assert.Equal(t, def.Cache.TTL, cfg.Cache.TTL)
	assert.Equal(t, def.Cache.MaxSize, cfg.Cache.MaxSize)
	assert.Equal(t, def.Cache.UseRedis, cfg.Cache.UseRedis)
}

func TestEnvDurationBareSeconds(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "90")
	cfg := FromEnv()
	assert.Equal(t, 90*time.Second, cfg.Broker.RequestTimeout)
}
