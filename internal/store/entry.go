package store

import (
	"math"
	"time"
)

// MaxTTLSeconds is the largest TTL, in whole seconds, a time.Duration can hold.
const MaxTTLSeconds = math.MaxInt64 / int64(time.Second)

// Entry represents a single value stored in the store.
//
// A zero ExpiresAt means the entry never expires. An entry whose
// ExpiresAt is at or before the observation time is logically dead
// and must never be returned, counted or persisted.
type Entry struct {
	Value     Value
	ExpiresAt time.Time
}

// HasExpiry reports whether the entry carries a TTL.
func (e Entry) HasExpiry() bool {
	return !e.ExpiresAt.IsZero()
}

// IsExpired checks whether the entry is dead at the given time.
func (e Entry) IsExpired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(e.ExpiresAt)
}

// Remaining returns the time left before expiry, truncated to whole seconds.
// It returns false for entries without a TTL.
func (e Entry) Remaining(now time.Time) (time.Duration, bool) {
	if e.ExpiresAt.IsZero() {
		return 0, false
	}
	left := e.ExpiresAt.Sub(now).Truncate(time.Second)
	if left < 0 {
		left = 0
	}
	return left, true
}
