package cache

import (
	"encoding/json"
	"errors"
	"time"
)

// CacheEntry represents a single cached payload with the metadata needed for freshness checks.
// The payload is opaque to the cache: it is whatever the data source returned.
//
//nolint:revive // CacheEntry is the canonical name for this exported type.
type CacheEntry struct {
	// Key is the cache key the entry was stored under.
	Key string `json:"key"`

	// Payload is the serialized response.
	Payload []byte `json:"payload"`

	// StoredAt is the time the backend accepted the entry.
	StoredAt time.Time `json:"stored_at"`

	// TTL is the time-to-live requested when the entry was written.
	TTL time.Duration `json:"-"`
}

// NewCacheEntry creates an entry stamped with the given time.
func NewCacheEntry(key string, payload []byte, ttl time.Duration, storedAt time.Time) *CacheEntry {
	return &CacheEntry{
		Key:      key,
		Payload:  payload,
		StoredAt: storedAt,
		TTL:      ttl,
	}
}

// ExpiresAt returns the time the entry stops being fresh under its own TTL.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

// Age returns the duration since the entry was stored.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// IsExpired reports whether the entry is stale under its own TTL.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return !IsFresh(e, now, e.TTL)
}

// TimeUntilExpiration returns the duration until the entry expires.
// Returns 0 if already expired.
func (e *CacheEntry) TimeUntilExpiration(now time.Time) time.Duration {
	remaining := e.ExpiresAt().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MarshalJSON implements json.Marshaler for CacheEntry.
// StoredAt is written as RFC3339Nano and TTL as fractional seconds so sub-second TTLs survive.
func (e *CacheEntry) MarshalJSON() ([]byte, error) {
	type Alias CacheEntry
	return json.Marshal(&struct {
		*Alias

		StoredAt   string  `json:"stored_at"`
		TTLSeconds float64 `json:"ttl_seconds"`
	}{
		Alias:      (*Alias)(e),
		StoredAt:   e.StoredAt.UTC().Format(time.RFC3339Nano),
		TTLSeconds: e.TTL.Seconds(),
	})
}

// UnmarshalJSON implements json.Unmarshaler for CacheEntry.
func (e *CacheEntry) UnmarshalJSON(data []byte) error {
	if e == nil {
		return errors.New("cannot unmarshal into nil CacheEntry")
	}
	type Alias CacheEntry
	aux := &struct {
		*Alias

		StoredAt   string  `json:"stored_at"`
		TTLSeconds float64 `json:"ttl_seconds"`
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	storedAt, err := time.Parse(time.RFC3339Nano, aux.StoredAt)
	if err != nil {
		return err
	}
	e.StoredAt = storedAt
	e.TTL = time.Duration(aux.TTLSeconds * float64(time.Second))

	return nil
}
