package memory

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignment(t *testing.T) {
	require.Contains(t, []int{8, 16}, Alignment)
}

func TestReallocResult(t *testing.T) {
	require.False(t, NotSuccess.Success())
	require.True(t, ReallocResult{Ptr: 0x1000, ActualSize: 64}.Success())

	require.True(t, ValidRealloc(0x1000, 0, 0))
	require.True(t, ValidRealloc(0x1000, 8, 16))
	require.False(t, ValidRealloc(0, 8, 16))
	require.False(t, ValidRealloc(0x1000, 16, 8))
	require.False(t, ValidRealloc(0x1000, -1, 8))
}

func TestStatsDerived(t *testing.T) {
	s := Stats{
		SelfTotalAllocated:   1000,
		SelfTotalFreed:       400,
		ClientTotalAllocated: 900,
		ClientTotalFreed:     500,
	}
	assert.False(t, s.IsAllFreed())
	assert.False(t, s.ClientIsAllFreed())
	assert.Equal(t, int64(600), s.SelfOutstanding())
	assert.Equal(t, int64(400), s.ClientOutstanding())
	assert.Equal(t, int64(200), s.Cached())

	var c Counters
	c.SelfAlloc(64)
	c.ClientAlloc(64)
	c.ClientFree(64)
	c.SelfFree(64)
	snap := c.Snapshot()
	assert.True(t, snap.IsAllFreed())
	assert.True(t, snap.ClientIsAllFreed())
	assert.Equal(t, int64(64), snap.SelfTotalAllocated)
}

func TestProviderIDRanges(t *testing.T) {
	tests := []struct {
		id       ProviderID
		scoped   bool
		system   bool
		user     bool
		reserved bool
	}{
		{Invalid, false, false, false, true},
		{Default, true, true, false, true},
		{DefaultUnscoped, false, true, false, true},
		{DefaultUncachedUnscoped, false, true, false, true},
		{5, true, false, false, true},
		{-7, false, false, false, true},
		{ScopedUserMin, true, false, true, false},
		{100, true, false, true, false},
		{UnscopedUserMax, false, false, true, false},
		{-100, false, false, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			assert.Equal(t, tt.scoped, tt.id.IsScoped())
			assert.Equal(t, tt.system, tt.id.IsSystem())
			assert.Equal(t, tt.user, tt.id.IsUser())
			assert.Equal(t, tt.reserved, tt.id.IsReserved())
		})
	}
	assert.Equal(t, "default-uncached-unscoped", DefaultUncachedUnscoped.String())
	assert.Equal(t, "16", ScopedUserMin.String())
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("get allocator 42: %w", ErrUnknownProvider)
	require.ErrorIs(t, wrapped, ErrUnknownProvider)
	require.True(t, IsKind(wrapped, ErrKindConfiguration))
	require.False(t, IsKind(wrapped, ErrKindPointer))
	require.False(t, IsKind(errors.New("plain"), ErrKindConfiguration))

	cause := errors.New("mmap: ENOMEM")
	e := &Error{Kind: ErrKindAllocation, Msg: "native: allocate", Err: cause}
	require.ErrorIs(t, e, cause)
	require.Equal(t, "native: allocate: mmap: ENOMEM", e.Error())

	var nilErr *Error
	require.Equal(t, "<nil>", nilErr.Error())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, time.Second, cfg.TTL())
	require.Equal(t, 64, cfg.CacheLostObserveWindowSize)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`{"defaultMemCacheTtlMs": 250, "cleanupThresholdBytes": 4096}`))
	require.NoError(t, err)
	require.Equal(t, int64(250), cfg.DefaultMemCacheTTLMs)
	require.Equal(t, int64(4096), cfg.CleanupThresholdBytes)
	require.Equal(t, DefaultConfig().CacheLostObserveWindowSize, cfg.CacheLostObserveWindowSize)

	_, err = LoadConfig(strings.NewReader(`{"ttl": 5}`))
	require.Error(t, err)

	_, err = LoadConfig(strings.NewReader(`{"defaultMemCacheTtlMs": -1}`))
	require.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvCacheTTLMs, "20")
	t.Setenv(EnvCacheLostWindow, "8")
	t.Setenv(EnvCleanupThresholdBytes, "1024")

	cfg, err := ConfigFromEnv(DefaultConfig())
	require.NoError(t, err)
	require.Equal(t, Config{
		DefaultMemCacheTTLMs:       20,
		CacheLostObserveWindowSize: 8,
		CleanupThresholdBytes:      1024,
	}, cfg)

	t.Setenv(EnvCacheLostWindow, "many")
	_, err = ConfigFromEnv(DefaultConfig())
	require.Error(t, err)
}
