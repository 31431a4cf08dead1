// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the HTTP server (default ":8080").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - CACHE_BACKEND: memory, redis or none (default "memory").
//   - REDIS_URL: Redis connection URL, required when CACHE_BACKEND=redis.
//   - CACHE_TTL: lifetime of cached flag definitions (default "5m", must be
//     > 0 if set).
//   - CACHE_MAX_ENTRIES: capacity of the in-memory cache (default "10000",
//     must be > 0 if set).
//   - CACHE_KEY_PREFIX: Redis key namespace (default "flagchain").
//   - AUTO_PROVISION: create unknown flags on first evaluation (default
//     "true").
//   - FLAG_NOTIFY_CHANNEL: PostgreSQL NOTIFY channel for cache invalidation
//     (default "flag_events").
//   - AUTH_RATE_LIMIT: failed authentication attempts allowed per minute per
//     client (default "10", must be > 0 if set).
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - TRACE_SAMPLE_RATIO: fraction of root traces sampled when tracing is
//     enabled (default "1", must be within [0,1]).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
	CacheBackendNone   = "none"
)

const (
	defaultHTTPAddr              = ":8080"
	defaultLogLevel              = "info"
	defaultLogFormat             = "json"
	defaultCacheTTL              = 5 * time.Minute
	defaultCacheMaxEntries       = 10000
	defaultCacheKeyPrefix        = "flagchain"
	defaultNotifyChannel         = "flag_events"
	defaultAuthRateLimit         = 10
	defaultMaxJSONBodySize int64 = 1 << 20 // 1MB
)

const defaultTraceSampleRatio = 1.0

// Config holds the runtime configuration for the flagchain server.
type Config struct {
	DatabaseURL      string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	CacheBackend     string
	RedisURL         string
	CacheTTL         time.Duration
	CacheMaxEntries  int
	CacheKeyPrefix   string
	AutoProvision    bool
	NotifyChannel    string
	AuthRateLimit    int
	MaxJSONBodySize  int64
	// TraceSampleRatio only applies when OTEL_EXPORTER_OTLP_ENDPOINT is set.
	TraceSampleRatio float64
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if required variables are missing or if
// optional values fail validation.
func Load() (Config, error) {
	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}

	cacheBackend := strings.ToLower(envOrDefault("CACHE_BACKEND", CacheBackendMemory))
	switch cacheBackend {
	case CacheBackendMemory, CacheBackendRedis, CacheBackendNone:
	default:
		return Config{}, fmt.Errorf("CACHE_BACKEND must be one of memory, redis, none; got %q", cacheBackend)
	}

	redisURL := strings.TrimSpace(os.Getenv("REDIS_URL"))
	if cacheBackend == CacheBackendRedis && redisURL == "" {
		return Config{}, errors.New("REDIS_URL is required when CACHE_BACKEND=redis")
	}

	cacheTTL, err := positiveDuration("CACHE_TTL", defaultCacheTTL)
	if err != nil {
		return Config{}, err
	}

	cacheMaxEntries := defaultCacheMaxEntries
	if v := strings.TrimSpace(os.Getenv("CACHE_MAX_ENTRIES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, errors.New("CACHE_MAX_ENTRIES must be a positive integer")
		}
		cacheMaxEntries = n
	}

	autoProvision := true
	if v := strings.TrimSpace(os.Getenv("AUTO_PROVISION")); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTO_PROVISION: %w", err)
		}
		autoProvision = parsed
	}

	authRateLimit := defaultAuthRateLimit
	if value := strings.TrimSpace(os.Getenv("AUTH_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse AUTH_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("AUTH_RATE_LIMIT must be > 0")
		}
		authRateLimit = parsed
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	traceSampleRatio := defaultTraceSampleRatio
	if v := strings.TrimSpace(os.Getenv("TRACE_SAMPLE_RATIO")); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil || !(ratio >= 0 && ratio <= 1) {
			return Config{}, errors.New("TRACE_SAMPLE_RATIO must be a number within [0,1]")
		}
		traceSampleRatio = ratio
	}

	return Config{
		DatabaseURL:      databaseURL,
		HTTPAddr:         envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		LogLevel:         envOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:        envOrDefault("LOG_FORMAT", defaultLogFormat),
		CacheBackend:     cacheBackend,
		RedisURL:         redisURL,
		CacheTTL:         cacheTTL,
		CacheMaxEntries:  cacheMaxEntries,
		CacheKeyPrefix:   envOrDefault("CACHE_KEY_PREFIX", defaultCacheKeyPrefix),
		AutoProvision:    autoProvision,
		NotifyChannel:    envOrDefault("FLAG_NOTIFY_CHANNEL", defaultNotifyChannel),
		AuthRateLimit:    authRateLimit,
		MaxJSONBodySize:  maxJSONBodySize,
		TraceSampleRatio: traceSampleRatio,
	}, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return parsed, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
