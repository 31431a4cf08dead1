package config

import (
	"testing"
	"time"
)

var configEnv = []string{
	"HTTP_ADDR", "LOG_LEVEL", "LOG_FORMAT", "CACHE_BACKEND", "REDIS_URL", "CACHE_TTL",
	"CACHE_MAX_ENTRIES", "CACHE_KEY_PREFIX", "AUTO_PROVISION", "FLAG_NOTIFY_CHANNEL",
	"AUTH_RATE_LIMIT", "MAX_JSON_BODY_SIZE", "TRACE_SAMPLE_RATIO",
}

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoad_RequiredDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load() should fail when DATABASE_URL is empty")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("log settings = %q/%q, want info/json", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.CacheBackend != CacheBackendMemory {
		t.Errorf("CacheBackend = %q, want memory", cfg.CacheBackend)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.CacheTTL)
	}
	if cfg.CacheMaxEntries != 10000 {
		t.Errorf("CacheMaxEntries = %d, want 10000", cfg.CacheMaxEntries)
	}
	if cfg.CacheKeyPrefix != "flagchain" {
		t.Errorf("CacheKeyPrefix = %q, want flagchain", cfg.CacheKeyPrefix)
	}
	if !cfg.AutoProvision {
		t.Error("AutoProvision = false, want true")
	}
	if cfg.NotifyChannel != "flag_events" {
		t.Errorf("NotifyChannel = %q, want flag_events", cfg.NotifyChannel)
	}
	if cfg.AuthRateLimit != 10 {
		t.Errorf("AuthRateLimit = %d, want 10", cfg.AuthRateLimit)
	}
	if cfg.MaxJSONBodySize != 1<<20 {
		t.Errorf("MaxJSONBodySize = %d, want 1MiB", cfg.MaxJSONBodySize)
	}
	if cfg.TraceSampleRatio != 1 {
		t.Errorf("TraceSampleRatio = %v, want 1", cfg.TraceSampleRatio)
	}
}

func TestLoad_Custom(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("HTTP_ADDR", ":3000")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("CACHE_MAX_ENTRIES", "50")
	t.Setenv("AUTO_PROVISION", "false")
	t.Setenv("TRACE_SAMPLE_RATIO", "0.25")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":3000" {
		t.Errorf("HTTPAddr = %q, want :3000", cfg.HTTPAddr)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want text", cfg.LogFormat)
	}
	if cfg.CacheBackend != CacheBackendRedis || cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("cache = %q %q, want redis", cfg.CacheBackend, cfg.RedisURL)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("CacheTTL = %v, want 30s", cfg.CacheTTL)
	}
	if cfg.CacheMaxEntries != 50 {
		t.Errorf("CacheMaxEntries = %d, want 50", cfg.CacheMaxEntries)
	}
	if cfg.AutoProvision {
		t.Error("AutoProvision = true, want false")
	}
	if cfg.TraceSampleRatio != 0.25 {
		t.Errorf("TraceSampleRatio = %v, want 0.25", cfg.TraceSampleRatio)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown cache backend", key: "CACHE_BACKEND", val: "memcached"},
		{name: "redis without url", key: "CACHE_BACKEND", val: "redis"},
		{name: "cache ttl not a duration", key: "CACHE_TTL", val: "soon"},
		{name: "cache ttl zero", key: "CACHE_TTL", val: "0s"},
		{name: "cache ttl negative", key: "CACHE_TTL", val: "-1m"},
		{name: "cache entries zero", key: "CACHE_MAX_ENTRIES", val: "0"},
		{name: "auto provision not bool", key: "AUTO_PROVISION", val: "maybe"},
		{name: "rate limit zero", key: "AUTH_RATE_LIMIT", val: "0"},
		{name: "rate limit text", key: "AUTH_RATE_LIMIT", val: "ten"},
		{name: "body size negative", key: "MAX_JSON_BODY_SIZE", val: "-5"},
		{name: "sample ratio above one", key: "TRACE_SAMPLE_RATIO", val: "1.5"},
		{name: "sample ratio text", key: "TRACE_SAMPLE_RATIO", val: "half"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() should fail for %s=%q", tt.key, tt.val)
			}
		})
	}
}

func TestEnvOrDefault_EmptyReturnsDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "")
	got := envOrDefault("TEST_KEY", "fallback")
	if got != "fallback" {
		t.Errorf("envOrDefault() = %q, want %q", got, "fallback")
	}
}

func TestEnvOrDefault_WhitespaceReturnsDefault(t *testing.T) {
	t.Setenv("TEST_KEY", "   ")
	got := envOrDefault("TEST_KEY", "fallback")
	if got != "fallback" {
		t.Errorf("envOrDefault() = %q, want %q", got, "fallback")
	}
}

func TestEnvOrDefault_ValueReturnsValue(t *testing.T) {
	t.Setenv("TEST_KEY", " value ")
	got := envOrDefault("TEST_KEY", "fallback")
	if got != "value" {
		t.Errorf("envOrDefault() = %q, want %q", got, "value")
	}
}
