// Package presence resolves how one user's presence looks to another.
//
// Everything here is pure: results depend only on the arguments, so the same
// rules can run in handlers, in the hub fan-out and in tests without setup.
package presence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is a user-chosen visibility state, independent of connectivity.
type Status string

const (
	StatusOnline    Status = "online"
	StatusIdle      Status = "idle"
	StatusDND       Status = "dnd"
	StatusInvisible Status = "invisible"
	// StatusOffline is derived for subjects without a live connection; users cannot set it.
	StatusOffline Status = "offline"
)

// Color is a UI color token.
type Color string

const (
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
	ColorGray   Color = "gray"
)

const (
	TextHidden        = "Status hidden"
	TextLastSeenVague = "Last seen recently"
	TextOnline        = "Online"
	TextIdle          = "Idle"
	TextDND           = "Do Not Disturb"
	TextJustNow       = "Just now"
	TextActiveNow     = "Active now"
	TextUnknown       = "Unknown"
)

// View is the effective presence of a subject as seen by one viewer.
type View struct {
	Status Status `json:"status"`
	Text   string `json:"text"`
	Color  Color  `json:"color"`
}

// ParseStatus accepts only statuses a user may set on themself.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusOnline, StatusIdle, StatusDND, StatusInvisible:
		return st, nil
	}
	return "", fmt.Errorf("presence: unknown status %q", s)
}

// EffectiveStatus applies the invisibility rules: if either side is invisible,
// the subject is invisible to this viewer.
func EffectiveStatus(subject, viewer Status) Status {
	if viewer == StatusInvisible || subject == StatusInvisible {
		return StatusInvisible
	}
	return subject
}

// StatusText renders the subject's presence for the viewer. Invisible pairs never
// see a last-seen time.
func StatusText(subject, viewer Status, lastSeen, now time.Time) string {
	if viewer == StatusInvisible {
		return TextHidden
	}
	switch subject {
	case StatusInvisible:
		return TextLastSeenVague
	case StatusOnline:
		return TextOnline
	case StatusIdle:
		return TextIdle
	case StatusDND:
		return TextDND
	}
	return LastSeenText(lastSeen, now)
}

// LastSeenText buckets the time since lastSeen: under a minute "Just now",
// under five "Active now", otherwise "X ago". A zero or future timestamp yields "Unknown".
func LastSeenText(lastSeen, now time.Time) string {
	if lastSeen.IsZero() || now.IsZero() {
		return TextUnknown
	}
	d := now.Sub(lastSeen)
	switch {
	case d < 0:
		return TextUnknown
	case d < time.Minute:
		return TextJustNow
	case d < 5*time.Minute:
		return TextActiveNow
	}
	return humanize.RelTime(lastSeen, now, "ago", "from now")
}

// ParseLastSeen is LastSeenText for raw client timestamps (RFC 3339 or unix millis).
func ParseLastSeen(raw string, now time.Time) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TextUnknown
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return LastSeenText(t, now)
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return LastSeenText(time.UnixMilli(ms), now)
	}
	return TextUnknown
}

// StatusColor maps a status to its color token.
func StatusColor(s Status) Color {
	switch s {
	case StatusOnline:
		return ColorGreen
	case StatusIdle:
		return ColorYellow
	case StatusDND:
		return ColorRed
	}
	return ColorGray
}

// Resolve bundles effective status, text and color for one (subject, viewer) pair.
func Resolve(subject, viewer Status, lastSeen, now time.Time) View {
	eff := EffectiveStatus(subject, viewer)
	return View{
		Status: eff,
		Text:   StatusText(subject, viewer, lastSeen, now),
		Color:  StatusColor(eff),
	}
}

// Connected overlays connectivity: a subject who set online/idle/dnd but has no live
// connection is shown as offline. Invisible stays invisible.
func Connected(stored Status, online bool) Status {
	if stored == "" {
		stored = StatusOnline
	}
	if online || stored == StatusInvisible {
		return stored
	}
	return StatusOffline
}
