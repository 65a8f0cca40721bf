// Package janitor periodically removes content whose lifetime has ended and tells
// connected clients about it.
package janitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/model"
	"github.com/pulse/internal/timers"
)

type StoryStore interface {
	DeleteExpired(ctx context.Context, before time.Time) ([]string, error)
}

type MessageStore interface {
	DeleteExpiredEphemeral(ctx context.Context, before time.Time) ([]model.MessageRef, error)
}

type MoodStore interface {
	ClearExpiredMoods(ctx context.Context, now time.Time) ([]string, error)
}

// MediaRemover deletes uploaded files behind expired story content refs.
type MediaRemover interface {
	Remove(ctx context.Context, refs []string) (int, error)
}

// Notifier is the part of the ws hub the janitor reports to.
type Notifier interface {
	MessagesDeleted(ctx context.Context, refs []model.MessageRef)
	BroadcastMood(ctx context.Context, userID string, mood *model.Mood)
	SweepTyping() int
}

type Deps struct {
	Stories  StoryStore
	Messages MessageStore
	Moods    MoodStore
	Media    MediaRemover
	Hub      Notifier
	Clock    timers.Clock
}

// Result counts what one sweep removed.
type Result struct {
	Stories  int
	Messages int
	Moods    int
	Files    int
	Trackers int
}

func (r Result) Empty() bool {
	return r == Result{}
}

type Janitor struct {
	deps     Deps
	clock    timers.Clock
	interval time.Duration
}

func New(deps Deps, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{deps: deps, clock: timers.OrReal(deps.Clock), interval: interval}
}

// Run sweeps once immediately and then every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.sweepAndLog(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	res, err := j.Sweep(ctx)
	if err != nil {
		logger.Errorf("janitor: %v", err)
	}
	if !res.Empty() {
		logger.Infof("janitor: removed stories=%d files=%d messages=%d moods=%d trackers=%d",
			res.Stories, res.Files, res.Messages, res.Moods, res.Trackers)
	}
}

// Sweep runs every step once. A failing step does not stop the others.
func (j *Janitor) Sweep(ctx context.Context) (Result, error) {
	defer logger.DeferLogDuration("janitor.Sweep", time.Now())()
	now := j.clock.Now()
	var (
		res  Result
		errs error
	)

	if j.deps.Stories != nil {
		refs, err := j.deps.Stories.DeleteExpired(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stories: %w", err))
		}
		res.Stories = len(refs)
		if len(refs) > 0 && j.deps.Media != nil {
			n, err := j.deps.Media.Remove(ctx, refs)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("media: %w", err))
			}
			res.Files = n
		}
	}

	if j.deps.Messages != nil {
		refs, err := j.deps.Messages.DeleteExpiredEphemeral(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("messages: %w", err))
		}
		res.Messages = len(refs)
		if len(refs) > 0 && j.deps.Hub != nil {
			j.deps.Hub.MessagesDeleted(ctx, refs)
		}
	}

	if j.deps.Moods != nil {
		ids, err := j.deps.Moods.ClearExpiredMoods(ctx, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("moods: %w", err))
		}
		res.Moods = len(ids)
		if j.deps.Hub != nil {
			for _, id := range ids {
				j.deps.Hub.BroadcastMood(ctx, id, nil)
			}
		}
	}

	if j.deps.Hub != nil {
		res.Trackers = j.deps.Hub.SweepTyping()
	}
	return res, errs
}
