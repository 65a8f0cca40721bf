// Package timerstest provides a deterministic manual clock for timer-driven tests.
package timerstest

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pulse/internal/timers"
)

// Clock is a manual timers.Clock on top of clockwork's fake clock. Time only moves
// through Advance/Set. Due callbacks run one at a time in deadline order, and
// Advance returns only after each of them has finished.
type Clock struct {
	fake *clockwork.FakeClock

	mu     sync.Mutex
	seq    uint64
	timers []*timer
}

type timer struct {
	clock   *Clock
	inner   clockwork.Timer
	at      time.Time
	seq     uint64
	fn      func()
	release chan struct{}
	done    chan struct{}
	stopped bool
	fired   bool
}

var _ timers.Clock = (*Clock)(nil)

// New returns a clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{fake: clockwork.NewFakeClockAt(start)}
}

// Fake exposes the underlying clockwork clock.
func (c *Clock) Fake() *clockwork.FakeClock { return c.fake }

func (c *Clock) Now() time.Time { return c.fake.Now() }

func (c *Clock) AfterFunc(d time.Duration, f func()) timers.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &timer{
		clock:   c,
		at:      c.fake.Now().Add(d),
		seq:     c.seq,
		fn:      f,
		release: make(chan struct{}),
		done:    make(chan struct{}),
	}
	c.timers = append(c.timers, t)
	// clockwork runs the callback on its own goroutine once the deadline passes;
	// it then parks until runUntil hands it the turn.
	t.inner = c.fake.AfterFunc(d, t.run)
	return t
}

func (t *timer) run() {
	<-t.release
	t.clock.mu.Lock()
	stopped := t.stopped
	t.clock.mu.Unlock()
	if stopped {
		return
	}
	defer close(t.done)
	t.fn()
}

func (t *timer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	if t.inner != nil {
		t.inner.Stop()
	}
	close(t.release)
	return true
}

// Advance moves the clock forward by d, firing every timer that comes due,
// including timers scheduled by callbacks within the window.
func (c *Clock) Advance(d time.Duration) {
	c.runUntil(c.fake.Now().Add(d))
}

// Set moves the clock to t (never backwards for pending timers).
func (c *Clock) Set(t time.Time) {
	c.runUntil(t)
}

func (c *Clock) runUntil(target time.Time) {
	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.mu.Unlock()
			break
		}
		c.mu.Unlock()

		if step := next.at.Sub(c.fake.Now()); step > 0 {
			c.fake.Advance(step)
		}

		c.mu.Lock()
		if next.stopped || next.fired {
			c.mu.Unlock()
			continue
		}
		next.fired = true
		close(next.release)
		c.mu.Unlock()
		<-next.done
	}
	if step := target.Sub(c.fake.Now()); step > 0 {
		c.fake.Advance(step)
	}
}

func (c *Clock) nextDueLocked(target time.Time) *timer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.timers = live
	sort.Slice(c.timers, func(i, j int) bool {
		if c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].at.Before(c.timers[j].at)
	})
	if len(c.timers) == 0 || c.timers[0].at.After(target) {
		return nil
	}
	return c.timers[0]
}

// Pending returns how many timers are armed and not yet due.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
