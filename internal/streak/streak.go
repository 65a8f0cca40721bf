// Package streak counts consecutive calendar days with at least one qualifying message.
package streak

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	spamMinLength     = 100
	spamDistinctRatio = 0.3
)

// Milestones are the streak lengths that trigger a notification.
var Milestones = []int{7, 30, 100, 365}

// Record is a user's streak state.
type Record struct {
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
	LastActiveDate time.Time `json:"last_active_date"`
}

// Reason explains why content does or does not count.
type Reason string

const (
	ReasonOK    Reason = ""
	ReasonEmpty Reason = "empty"
	ReasonSpam  Reason = "spam"
)

// Outcome of one Apply.
type Outcome int

const (
	Rejected Outcome = iota
	AlreadyCounted
	Continued
	Restarted
)

func (o Outcome) String() string {
	switch o {
	case Rejected:
		return "rejected"
	case AlreadyCounted:
		return "already_counted"
	case Continued:
		return "continued"
	case Restarted:
		return "restarted"
	}
	return "unknown"
}

// Result describes what Apply did.
type Result struct {
	Outcome   Outcome
	Reason    Reason
	Milestone int
}

// Changed reports whether the record was mutated.
func (r Result) Changed() bool {
	return r.Outcome == Continued || r.Outcome == Restarted
}

// Eligible filters out empty messages and long low-variety ones (keyboard mashing).
func Eligible(content string) (bool, Reason) {
	if strings.TrimSpace(content) == "" {
		return false, ReasonEmpty
	}
	n := utf8.RuneCountInString(content)
	if n > spamMinLength {
		distinct := make(map[rune]struct{}, 64)
		for _, r := range content {
			distinct[r] = struct{}{}
		}
		if float64(len(distinct))/float64(n) < spamDistinctRatio {
			return false, ReasonSpam
		}
	}
	return true, ReasonOK
}

// Apply decides how a message sent at now changes rec. Days are civil dates in loc.
func Apply(rec Record, content string, now time.Time, loc *time.Location) (Record, Result) {
	if ok, reason := Eligible(content); !ok {
		return rec, Result{Outcome: Rejected, Reason: reason}
	}
	if loc == nil {
		loc = time.UTC
	}
	today := civil(now, loc)
	var res Result
	switch {
	case !rec.LastActiveDate.IsZero() && !civil(rec.LastActiveDate, loc).Before(today):
		// Same day, or a last-active date in the future (clock skew).
		return rec, Result{Outcome: AlreadyCounted}
	case !rec.LastActiveDate.IsZero() && civil(rec.LastActiveDate, loc).Equal(today.AddDate(0, 0, -1)):
		rec.CurrentStreak++
		res.Outcome = Continued
	default:
		rec.CurrentStreak = 1
		res.Outcome = Restarted
	}
	if rec.CurrentStreak > rec.LongestStreak {
		rec.LongestStreak = rec.CurrentStreak
	}
	rec.LastActiveDate = now
	if IsMilestone(rec.CurrentStreak) {
		res.Milestone = rec.CurrentStreak
	}
	return rec, res
}

// IsMilestone reports whether n is one of Milestones.
func IsMilestone(n int) bool {
	for _, m := range Milestones {
		if n == m {
			return true
		}
	}
	return false
}

// civil truncates t to midnight of its date in loc.
func civil(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
