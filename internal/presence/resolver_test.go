package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 10, 18, 30, 0, 0, time.UTC)

var settable = []Status{StatusOnline, StatusIdle, StatusDND, StatusInvisible}

func TestInvisibleNeverLeaks(t *testing.T) {
	lastSeen := now.Add(-3 * time.Hour)
	all := append(append([]Status{}, settable...), StatusOffline)
	for _, subject := range all {
		for _, viewer := range all {
			if subject != StatusInvisible && viewer != StatusInvisible {
				continue
			}
			assert.Equal(t, StatusInvisible, EffectiveStatus(subject, viewer), "%s/%s", subject, viewer)
			text := StatusText(subject, viewer, lastSeen, now)
			assert.NotEqual(t, LastSeenText(lastSeen, now), text, "%s/%s", subject, viewer)
			assert.Contains(t, []string{TextHidden, TextLastSeenVague}, text)
		}
	}
}

func TestStatusTextPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		subject  Status
		viewer   Status
		lastSeen time.Time
		want     string
	}{
		{"viewer invisible", StatusOnline, StatusInvisible, now, TextHidden},
		{"subject invisible", StatusInvisible, StatusOnline, now, TextLastSeenVague},
		{"both invisible", StatusInvisible, StatusInvisible, now, TextHidden},
		{"online", StatusOnline, StatusIdle, now.Add(-time.Hour), TextOnline},
		{"idle", StatusIdle, StatusOnline, now.Add(-time.Hour), TextIdle},
		{"dnd wins over last seen", StatusDND, StatusOnline, now.Add(-2 * time.Minute), TextDND},
		{"offline uses last seen", StatusOffline, StatusOnline, now.Add(-2 * time.Minute), TextActiveNow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusText(tc.subject, tc.viewer, tc.lastSeen, now))
		})
	}
}

func TestLastSeenBuckets(t *testing.T) {
	assert.Equal(t, TextJustNow, LastSeenText(now.Add(-30*time.Second), now))
	assert.Equal(t, TextJustNow, LastSeenText(now, now))
	assert.Equal(t, TextUnknown, LastSeenText(now.Add(5*time.Second), now))
	assert.Equal(t, TextUnknown, LastSeenText(now.AddDate(1, 0, 0), now))
	assert.Equal(t, TextActiveNow, LastSeenText(now.Add(-time.Minute), now))
	assert.Equal(t, TextActiveNow, LastSeenText(now.Add(-4*time.Minute-59*time.Second), now))
	assert.Equal(t, "12 minutes ago", LastSeenText(now.Add(-12*time.Minute), now))
	assert.Equal(t, "3 hours ago", LastSeenText(now.Add(-3*time.Hour), now))
	assert.Equal(t, TextUnknown, LastSeenText(time.Time{}, now))
}

func TestParseLastSeenDegrades(t *testing.T) {
	assert.Equal(t, TextUnknown, ParseLastSeen("", now))
	assert.Equal(t, TextUnknown, ParseLastSeen("yesterday-ish", now))
	assert.Equal(t, TextUnknown, ParseLastSeen("-42", now))
	assert.Equal(t, TextJustNow, ParseLastSeen(now.Add(-10*time.Second).Format(time.RFC3339), now))
	assert.Equal(t, TextActiveNow, ParseLastSeen("1715365620000", now)) // 18:27:00Z
	assert.Equal(t, TextUnknown, ParseLastSeen(now.AddDate(1, 0, 0).Format(time.RFC3339), now))
	assert.Equal(t, TextUnknown, ParseLastSeen("1900000000000", now))
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, ColorGreen, StatusColor(StatusOnline))
	assert.Equal(t, ColorYellow, StatusColor(StatusIdle))
	assert.Equal(t, ColorRed, StatusColor(StatusDND))
	assert.Equal(t, ColorGray, StatusColor(StatusInvisible))
	assert.Equal(t, ColorGray, StatusColor(StatusOffline))
}

func TestResolve(t *testing.T) {
	v := Resolve(StatusDND, StatusOnline, now.Add(-2*time.Minute), now)
	assert.Equal(t, View{Status: StatusDND, Text: TextDND, Color: ColorRed}, v)

	v = Resolve(StatusOnline, StatusInvisible, now, now)
	assert.Equal(t, View{Status: StatusInvisible, Text: TextHidden, Color: ColorGray}, v)
}

func TestParseStatus(t *testing.T) {
	for _, s := range settable {
		got, err := ParseStatus(" " + string(s) + " ")
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("offline")
	assert.Error(t, err)
	_, err = ParseStatus("busy")
	assert.Error(t, err)
}

func TestConnected(t *testing.T) {
	assert.Equal(t, StatusDND, Connected(StatusDND, true))
	assert.Equal(t, StatusOffline, Connected(StatusDND, false))
	assert.Equal(t, StatusInvisible, Connected(StatusInvisible, false))
	assert.Equal(t, StatusOnline, Connected("", true))
}
