package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	c := New[string, int](10, 20*time.Millisecond)
	c.Set("a", 1)

	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	time.Sleep(30 * time.Millisecond)
	_, ok = c.Get("a")
	require.False(t, ok)
}

func TestTTLCacheLRUBound(t *testing.T) {
	c := New[int, int](2, time.Minute)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3) // evicts 1 (least recently used)

	_, ok := c.Get(1)
	require.False(t, ok)

	_, ok = c.Get(2)
	require.True(t, ok)
	_, ok = c.Get(3)
	require.True(t, ok)
}

func TestTTLCacheSetWithTTLOverride(t *testing.T) {
	c := New[string, int](10, time.Hour)
	c.SetWithTTL("short", 42, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("short")
	require.False(t, ok)
}

func TestTTLCacheClear(t *testing.T) {
	c := New[string, int](10, time.Hour)
	c.Set("a", 1)
	c.Clear()
	require.Equal(t, 0, c.Len())
}
