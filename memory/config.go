package memory

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvCacheTTLMs            = "MEMKIT_CACHE_TTL_MS"
	EnvCacheLostWindow       = "MEMKIT_CACHE_LOST_WINDOW"
	EnvCleanupThresholdBytes = "MEMKIT_CLEANUP_THRESHOLD_BYTES"
)

// Config holds the recognized allocation cache options.
type Config struct {
	// DefaultMemCacheTTLMs is how long a freed block may stay cached before it is
	// released to the backing allocator.
	DefaultMemCacheTTLMs int64 `json:"defaultMemCacheTtlMs"`

	// CacheLostObserveWindowSize is the number of recent cache misses (and evictions)
	// observed to decide whether the cache is evicting blocks that are then requested
	// again. Zero disables retention adaptation.
	CacheLostObserveWindowSize int `json:"cacheLostObserveWindowSize"`

	// CleanupThresholdBytes caps the bytes held in the cache. Exceeding it evicts
	// oldest-first before the TTL expires. Zero means no cap.
	CleanupThresholdBytes int64 `json:"cleanupThresholdBytes"`
}

// DefaultConfig returns the configuration used when none is supplied.
//
// Defaults:
//   - DefaultMemCacheTTLMs: 1000
//   - CacheLostObserveWindowSize: 64
//   - CleanupThresholdBytes: 64 MiB
func DefaultConfig() Config {
	return Config{
		DefaultMemCacheTTLMs:       1000,
		CacheLostObserveWindowSize: 64,
		CleanupThresholdBytes:      64 << 20,
	}
}

// TTL returns the retention window as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.DefaultMemCacheTTLMs) * time.Millisecond
}

// Validate rejects negative values.
func (c Config) Validate() error {
	if c.DefaultMemCacheTTLMs < 0 {
		return fmt.Errorf("memory: defaultMemCacheTtlMs must be >= 0, got %d", c.DefaultMemCacheTTLMs)
	}
	if c.CacheLostObserveWindowSize < 0 {
		return fmt.Errorf(
			"memory: cacheLostObserveWindowSize must be >= 0, got %d",
			c.CacheLostObserveWindowSize,
		)
	}
	if c.CleanupThresholdBytes < 0 {
		return fmt.Errorf("memory: cleanupThresholdBytes must be >= 0, got %d", c.CleanupThresholdBytes)
	}
	return nil
}

// LoadConfig decodes a JSON configuration. Fields missing from the document keep
// their DefaultConfig values; unknown fields are rejected.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("memory: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads LoadConfig's format from path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return LoadConfig(f)
}

// ConfigFromEnv overlays the MEMKIT_* environment variables on base.
func ConfigFromEnv(base Config) (Config, error) {
	cfg := base
	if v, ok := os.LookupEnv(EnvCacheTTLMs); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("memory: %s: %w", EnvCacheTTLMs, err)
		}
		cfg.DefaultMemCacheTTLMs = n
	}
	if v, ok := os.LookupEnv(EnvCacheLostWindow); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("memory: %s: %w", EnvCacheLostWindow, err)
		}
		cfg.CacheLostObserveWindowSize = n
	}
	if v, ok := os.LookupEnv(EnvCleanupThresholdBytes); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("memory: %s: %w", EnvCleanupThresholdBytes, err)
		}
		cfg.CleanupThresholdBytes = n
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
