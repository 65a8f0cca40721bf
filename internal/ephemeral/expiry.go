// Package ephemeral drives time-bounded content: an auto-advancing viewer for story
// sequences and the expiry rules shared by stories and disappearing messages.
package ephemeral

import "time"

const (
	// DefaultLifetime is how long a story or ephemeral message stays visible.
	DefaultLifetime = 24 * time.Hour
	MinLifetime     = time.Hour
	MaxLifetime     = 24 * time.Hour
)

// Item is one entry of a viewable sequence.
type Item struct {
	ID        string
	ExpiresAt time.Time
}

// ExpiresAt returns created+d.
func ExpiresAt(created time.Time, d time.Duration) time.Time {
	return created.Add(d)
}

// Expired reports whether content expiring at exp is gone at now.
func Expired(exp, now time.Time) bool {
	return !now.Before(exp)
}

// Active keeps items with now < ExpiresAt, preserving order.
func Active(items []Item, now time.Time) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !Expired(it.ExpiresAt, now) {
			out = append(out, it)
		}
	}
	return out
}

// ClampDuration turns a requested lifetime in hours into a duration within
// [MinLifetime, MaxLifetime]. Zero or negative means the default.
func ClampDuration(hours int) time.Duration {
	if hours <= 0 {
		return DefaultLifetime
	}
	d := time.Duration(hours) * time.Hour
	if d < MinLifetime {
		return MinLifetime
	}
	if d > MaxLifetime {
		return MaxLifetime
	}
	return d
}

// ViewDuration is how long an item is shown when entered at now.
func ViewDuration(window time.Duration, exp, now time.Time) time.Duration {
	left := exp.Sub(now)
	if left <= 0 {
		return 0
	}
	if left < window {
		return left
	}
	return window
}
