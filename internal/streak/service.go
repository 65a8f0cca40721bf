package streak

import (
	"context"
	"fmt"
	"time"

	"github.com/pulse/internal/events"
	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/timers"
)

// Store persists records. Update must run fn under a per-user lock (row lock) and
// save the record only when fn reports a change.
type Store interface {
	Get(ctx context.Context, userID string) (Record, error)
	Update(ctx context.Context, userID string, fn func(Record) (Record, bool)) (Record, error)
}

// Notifier delivers milestone notifications; push.Client satisfies it.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// Service applies message activity to stored streaks.
type Service struct {
	store    Store
	notifier Notifier
	events   events.Publisher
	clock    timers.Clock
	loc      *time.Location
}

// NewService wires a service; notifier, pub and clock may be nil.
func NewService(store Store, notifier Notifier, pub events.Publisher, clock timers.Clock, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: store, notifier: notifier, events: pub, clock: timers.OrReal(clock), loc: loc}
}

// Location is the timezone days are counted in.
func (s *Service) Location() *time.Location { return s.loc }

// Get returns the user's record.
func (s *Service) Get(ctx context.Context, userID string) (Record, error) {
	return s.store.Get(ctx, userID)
}

// RecordActivity counts a sent message toward the sender's streak.
func (s *Service) RecordActivity(ctx context.Context, userID, content string) (Record, Result, error) {
	defer logger.DeferLogDuration("streak.RecordActivity", time.Now())()
	if ok, reason := Eligible(content); !ok {
		return Record{}, Result{Outcome: Rejected, Reason: reason}, nil
	}
	now := s.clock.Now()
	var res Result
	rec, err := s.store.Update(ctx, userID, func(cur Record) (Record, bool) {
		var next Record
		next, res = Apply(cur, content, now, s.loc)
		return next, res.Changed()
	})
	if err != nil {
		return Record{}, Result{}, fmt.Errorf("streak.RecordActivity: %w", err)
	}
	if res.Milestone > 0 {
		s.celebrate(ctx, userID, res.Milestone)
	}
	return rec, res, nil
}

func (s *Service) celebrate(ctx context.Context, userID string, days int) {
	logger.Infof("streak: user %s reached %d days", userID, days)
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID,
			fmt.Sprintf("%d-day streak!", days),
			fmt.Sprintf("You've been chatting %d days in a row. Keep it going!", days),
			map[string]string{"type": "streak_milestone", "streak": fmt.Sprint(days)})
	}
	events.Emit(s.events, events.New(events.TypeStreakMilestone, events.StreakMilestone{UserID: userID, Streak: days}, s.clock.Now()))
}
