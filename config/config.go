package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/use-agent/browserpool/breaker"
	"github.com/use-agent/browserpool/pool"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Pool      PoolConfig
	Browser   BrowserConfig
	Render    RenderConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Log       LogConfig
}

// PoolConfig controls the browser pool and its circuit breaker.
type PoolConfig struct {
	// MaxSize is the number of browsers kept in the pool.
	MaxSize int // default: 3

	// FailureThreshold is the number of acquisition failures
	// that opens the circuit.
	FailureThreshold int // default: 3

	// Timeout bounds the launch of a single browser.
	Timeout time.Duration // default: 60s

	// ResetTimeout is how long the circuit stays open before a probe.
	ResetTimeout time.Duration // default: 30s

	// ConcurrentProbes lets every caller probe a half-open circuit.
	ConcurrentProbes bool // default: false

	// StrictShutdown stops the pool from re-initializing after CloseAll.
	StrictShutdown bool // default: false

	// AcquireTimeout caps the wait for a free browser. 0 waits forever.
	AcquireTimeout time.Duration // default: 0

	// MetricsWindow is the averaging window for reported metrics.
	MetricsWindow time.Duration // default: 5m
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls how each pooled Chromium instance is launched.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// DefaultProxy is the proxy URL passed to every browser.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// RenderConfig controls page rendering.
type RenderConfig struct {
	// DefaultTimeout is the per-request timeout.
	DefaultTimeout time.Duration // default: 30s

	// MaxTimeout is the maximum allowed timeout from the client.
	MaxTimeout time.Duration // default: 120s

	// NavigationTimeout is the max time for page.Navigate alone.
	NavigationTimeout time.Duration // default: 15s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the render response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached responses.
	MaxEntries int // default: 1000
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads an optional .env file, then configuration from environment
// variables with sane defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("BROWSERPOOL_HOST", "0.0.0.0"),
			Port: envIntOr("BROWSERPOOL_PORT", 8080),
			Mode: envOr("BROWSERPOOL_MODE", "release"),
		},
		Pool: PoolConfig{
			MaxSize:          envIntOr("BROWSERPOOL_MAX_SIZE", 3),
			FailureThreshold: envIntOr("BROWSERPOOL_FAILURE_THRESHOLD", 3),
			Timeout:          envDurationOr("BROWSERPOOL_TIMEOUT", 60*time.Second),
			ResetTimeout:     envDurationOr("BROWSERPOOL_RESET_TIMEOUT", 30*time.Second),
			ConcurrentProbes: envBoolOr("BROWSERPOOL_CONCURRENT_PROBES", false),
			StrictShutdown:   envBoolOr("BROWSERPOOL_STRICT_SHUTDOWN", false),
			AcquireTimeout:   envDurationOr("BROWSERPOOL_ACQUIRE_TIMEOUT", 0),
			MetricsWindow:    envDurationOr("BROWSERPOOL_METRICS_WINDOW", 5*time.Minute),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("BROWSERPOOL_HEADLESS", true),
			DefaultProxy: os.Getenv("BROWSERPOOL_PROXY"),
			NoSandbox:    envBoolOr("BROWSERPOOL_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("BROWSERPOOL_BROWSER_BIN"),
		},
		Render: RenderConfig{
			DefaultTimeout:    envDurationOr("BROWSERPOOL_DEFAULT_TIMEOUT", 30*time.Second),
			MaxTimeout:        envDurationOr("BROWSERPOOL_MAX_TIMEOUT", 120*time.Second),
			NavigationTimeout: envDurationOr("BROWSERPOOL_NAV_TIMEOUT", 15*time.Second),
			BlockedResourceTypes: envSliceOr("BROWSERPOOL_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("BROWSERPOOL_AUTH_ENABLED", true),
			APIKeys: envSliceOr("BROWSERPOOL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("BROWSERPOOL_RATE_RPS", 5.0),
			Burst:             envIntOr("BROWSERPOOL_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("BROWSERPOOL_CACHE_MAX_ENTRIES", 1000),
		},
		Log: LogConfig{
			Level:  envOr("BROWSERPOOL_LOG_LEVEL", "info"),
			Format: envOr("BROWSERPOOL_LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the pool cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Pool.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("BROWSERPOOL_MAX_SIZE must be >= 1, got %d", c.Pool.MaxSize))
	}
	if c.Pool.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("BROWSERPOOL_FAILURE_THRESHOLD must be >= 1, got %d", c.Pool.FailureThreshold))
	}
	if c.Pool.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("BROWSERPOOL_TIMEOUT must be positive, got %s", c.Pool.Timeout))
	}
	if c.Pool.ResetTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BROWSERPOOL_RESET_TIMEOUT must be positive, got %s", c.Pool.ResetTimeout))
	}
	if c.Pool.AcquireTimeout < 0 {
		errs = append(errs, fmt.Errorf("BROWSERPOOL_ACQUIRE_TIMEOUT must not be negative, got %s", c.Pool.AcquireTimeout))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("BROWSERPOOL_PORT out of range: %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// PoolOptions converts the pool section into pool.Config.
func (c PoolConfig) PoolOptions() pool.Config {
	return pool.Config{
		MaxSize: c.MaxSize,
		Breaker: breaker.Config{
			FailureThreshold: c.FailureThreshold,
			Timeout:          c.Timeout,
			ResetTimeout:     c.ResetTimeout,
			ConcurrentProbes: c.ConcurrentProbes,
		},
		StrictShutdown: c.StrictShutdown,
		MetricsWindow:  c.MetricsWindow,
		AcquireTimeout: c.AcquireTimeout,
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
