// Package config holds the explicit configuration consumed by every
// component constructor. Nothing below this package reads the environment;
// FromEnv is the single place process configuration is resolved.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	str2duration "github.com/xhit/go-str2duration/v2"
)

// CacheConfig configures the local and distributed cache tiers.
type CacheConfig struct {
	// UseRedis enables the distributed tier. When false only the
	// in-process cache is used.
	UseRedis bool
	// TTL is the data TTL applied to cached provider results.
	TTL time.Duration
	// MaxSize bounds the number of entries held by the local cache.
	MaxSize int
	// LockTTL bounds how long a crashed fetch holder can block followers.
	LockTTL time.Duration
	// Prefix namespaces keys on a shared redis instance.
	Prefix string
}

// RedisConfig carries connection parameters for the shared redis instance.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
}

// Addr returns the host:port dial address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BrokerConfig configures the request/response channels and client timeout.
type BrokerConfig struct {
	RequestChannel  string
	ResponseChannel string
	RequestTimeout  time.Duration
}

// WorkerConfig configures the worker pool side.
type WorkerConfig struct {
	// Group is the consumer group name; all workers in a group compete
	// for requests so each request is processed exactly once.
	Group string
	// Concurrency is the ceiling on simultaneous in-flight handlers
	// within one worker process.
	Concurrency int
}

type Config struct {
	Cache  CacheConfig
	Redis  RedisConfig
	Broker BrokerConfig
	Worker WorkerConfig
}

// Default returns the configuration used when the environment provides
// nothing. Values mirror the upstream system defaults.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			UseRedis: true,
			TTL:      10 * time.Second,
			MaxSize:  1024,
			LockTTL:  5 * time.Second,
			Prefix:   "marketbroker",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Broker: BrokerConfig{
			RequestChannel:  "marketbroker:requests",
			ResponseChannel: "marketbroker:responses",
			RequestTimeout:  30 * time.Second,
		},
		Worker: WorkerConfig{
			Group:       "marketbroker-workers",
			Concurrency: 8,
		},
	}
}

// FromEnv builds a Config from environment variables, falling back to
// Default for anything unset. Durations accept either a Go/extended duration
// string ("30s", "1m") or a bare integer number of seconds.
func FromEnv() Config {
	cfg := Default()
	cfg.Cache.UseRedis = envBool("USE_REDIS_CACHE", cfg.Cache.UseRedis)
	cfg.Cache.TTL = envDuration("CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.MaxSize = envInt("CACHE_MAXSIZE", cfg.Cache.MaxSize)
	cfg.Cache.LockTTL = envDuration("LOCK_TTL", cfg.Cache.LockTTL)
	cfg.Cache.Prefix = envString("CACHE_PREFIX", cfg.Cache.Prefix)

	cfg.Redis.Host = envString("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = envInt("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.DB = envInt("REDIS_DB", cfg.Redis.DB)
	cfg.Redis.Password = envString("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Broker.RequestChannel = envString("REQUEST_CHANNEL", cfg.Broker.RequestChannel)
	cfg.Broker.ResponseChannel = envString("RESPONSE_CHANNEL", cfg.Broker.ResponseChannel)
	cfg.Broker.RequestTimeout = envDuration("REQUEST_TIMEOUT", cfg.Broker.RequestTimeout)

	cfg.Worker.Group = envString("WORKER_GROUP", cfg.Worker.Group)
	cfg.Worker.Concurrency = envInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	return cfg
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envBool(key string, def bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := str2duration.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}
