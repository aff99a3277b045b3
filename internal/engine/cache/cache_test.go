package cache

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a manually advanced Clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *testClock) Clock() Clock { return c.Now }

func TestCacheEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := []byte(`{"cve":"CVE-2024-0001","epss":"0.5"}`)
	entry := NewCacheEntry("k", payload, time.Minute, now)

	assert.Equal(t, "k", entry.Key)
	assert.Equal(t, payload, entry.Payload)
	assert.Equal(t, now.Add(time.Minute), entry.ExpiresAt())
	assert.Equal(t, 30*time.Second, entry.Age(now.Add(30*time.Second)))

	t.Run("Expiration", func(t *testing.T) {
		assert.False(t, entry.IsExpired(now.Add(59*time.Second)))
		assert.True(t, entry.IsExpired(now.Add(time.Minute)))
		assert.Equal(t, 10*time.Second, entry.TimeUntilExpiration(now.Add(50*time.Second)))
		assert.Equal(t, time.Duration(0), entry.TimeUntilExpiration(now.Add(time.Hour)))
	})

	t.Run("JSON", func(t *testing.T) {
		withSubSecond := NewCacheEntry("k", payload, 1500*time.Millisecond, now.Add(123*time.Nanosecond))
		encoded, err := json.Marshal(withSubSecond)
		require.NoError(t, err)
		assert.Contains(t, string(encoded), `"ttl_seconds":1.5`)

		var decoded CacheEntry
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		assert.Equal(t, withSubSecond.Key, decoded.Key)
		assert.Equal(t, withSubSecond.Payload, decoded.Payload)
		assert.Equal(t, withSubSecond.TTL, decoded.TTL)
		assert.True(t, withSubSecond.StoredAt.Equal(decoded.StoredAt))
	})

	t.Run("JSON rejects missing stored_at", func(t *testing.T) {
		var decoded CacheEntry
		assert.Error(t, json.Unmarshal([]byte(`{"key":"k","payload":"","ttl_seconds":1}`), &decoded))
	})
}

func TestIsFresh(t *testing.T) {
	stored := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := NewCacheEntry("k", nil, time.Hour, stored)

	tests := []struct {
		name  string
		now   time.Time
		ttl   time.Duration
		fresh bool
	}{
		{"just stored", stored, time.Hour, true},
		{"one tick before expiry", stored.Add(time.Hour - time.Nanosecond), time.Hour, true},
		{"exactly at expiry", stored.Add(time.Hour), time.Hour, false},
		{"after expiry", stored.Add(2 * time.Hour), time.Hour, false},
		{"zero ttl", stored, 0, false},
		{"negative ttl", stored, -time.Second, false},
		{"shorter override", stored.Add(10 * time.Minute), 5 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fresh, IsFresh(entry, tt.now, tt.ttl))
		})
	}

	assert.False(t, IsFresh(nil, stored, time.Hour))
}

func TestEffectiveTTL(t *testing.T) {
	entry := NewCacheEntry("k", nil, 10*time.Minute, time.Now())

	assert.Equal(t, 10*time.Minute, EffectiveReadTTL(entry, 0, false))
	assert.Equal(t, time.Minute, EffectiveReadTTL(entry, time.Minute, true))
	assert.Equal(t, time.Duration(0), EffectiveReadTTL(nil, 0, false))

	assert.Equal(t, time.Hour, EffectiveWriteTTL(time.Hour, 0, false))
	assert.Equal(t, time.Minute, EffectiveWriteTTL(time.Hour, time.Minute, true))
	assert.Equal(t, time.Duration(0), EffectiveWriteTTL(time.Hour, 0, true))

	assert.True(t, Cacheable(time.Second))
	assert.False(t, Cacheable(0))
	assert.False(t, Cacheable(-time.Second))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "0s", FormatDuration(-time.Minute))
	assert.Equal(t, "30s", FormatDuration(30*time.Second))
	assert.Equal(t, "5m", FormatDuration(5*time.Minute))
	assert.Equal(t, "5m30s", FormatDuration(5*time.Minute+30*time.Second))
	assert.Equal(t, "2h", FormatDuration(2*time.Hour))
	assert.Equal(t, "2h30m", FormatDuration(2*time.Hour+30*time.Minute))
	assert.Equal(t, "3d", FormatDuration(72*time.Hour))
	assert.Equal(t, "3d2h", FormatDuration(74*time.Hour))
}
