package cache

import (
	"fmt"
	"time"
)

const (
	// minutesPerHour is used for duration formatting calculations.
	minutesPerHour = 60

	// hoursPerDay is used for duration formatting calculations.
	hoursPerDay = 24
)

// IsFresh reports whether entry may still be served at now under ttl.
// An entry is fresh while now - StoredAt < ttl. A TTL of zero or less is never fresh.
func IsFresh(entry *CacheEntry, now time.Time, ttl time.Duration) bool {
	if entry == nil || ttl <= 0 {
		return false
	}
	return now.Sub(entry.StoredAt) < ttl
}

// Cacheable reports whether a TTL allows storage at all.
func Cacheable(ttl time.Duration) bool {
	return ttl > 0
}

// EffectiveReadTTL picks the TTL used to judge an existing entry: the per-request
// override when one was supplied, otherwise the TTL the entry was written with.
func EffectiveReadTTL(entry *CacheEntry, override time.Duration, overridden bool) time.Duration {
	if overridden {
		return override
	}
	if entry == nil {
		return 0
	}
	return entry.TTL
}

// EffectiveWriteTTL picks the TTL used for a new entry.
func EffectiveWriteTTL(configured, override time.Duration, overridden bool) time.Duration {
	if overridden {
		return override
	}
	return configured
}

// FormatDuration formats a duration in a human-readable way.
// Examples: "1h", "30m", "5m30s".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	if d < hoursPerDay*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % minutesPerHour
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}
