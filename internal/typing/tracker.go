package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/timers"
)

// Typer is one user currently shown as typing.
type Typer struct {
	UserID   string    `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Since    time.Time `json:"since"`
}

type entry struct {
	typer    Typer
	watchdog timers.Timer
	gen      uint64
}

// Tracker is the receiver side for one chat. Each typer is kept alive by a watchdog
// that a fresh isTyping=true event re-arms; without one the typer disappears.
type Tracker struct {
	selfID string
	opts   Options
	scope  *timers.Scope

	// OnChange, if set, receives the new list after every change, outside the lock.
	OnChange func([]Typer)

	mu     sync.Mutex
	users  map[string]*entry
	gen    uint64
	closed bool
}

// NewTracker creates a receiver that ignores events from selfID.
func NewTracker(selfID string, opts Options) *Tracker {
	opts = opts.withDefaults()
	return &Tracker{
		selfID: selfID,
		opts:   opts,
		scope:  timers.NewScope(opts.Clock),
		users:  make(map[string]*entry),
	}
}

// Handle applies one incoming event.
func (t *Tracker) Handle(ev Event) {
	if ev.UserID == "" || ev.UserID == t.selfID {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	changed := false
	if ev.IsTyping {
		changed = t.touchLocked(ev)
	} else {
		changed = t.removeLocked(ev.UserID)
	}
	snap := t.snapshotIfLocked(changed)
	t.mu.Unlock()
	t.notify(snap)
}

// Fail is called on channel or subscription errors: the error is logged and the
// indicator degrades to "no one is typing".
func (t *Tracker) Fail(err error) {
	if err != nil {
		logger.Warnf("typing subscription failed, clearing indicator: %v", err)
	}
	t.mu.Lock()
	changed := len(t.users) > 0
	for id := range t.users {
		t.removeLocked(id)
	}
	snap := t.snapshotIfLocked(changed)
	t.mu.Unlock()
	t.notify(snap)
}

// Typing returns current typers ordered by start time.
func (t *Tracker) Typing() []Typer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of current typers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Close cancels all watchdogs; later events are ignored.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.users = make(map[string]*entry)
	t.scope.Close()
}

func (t *Tracker) touchLocked(ev Event) bool {
	e, ok := t.users[ev.UserID]
	if !ok {
		since := ev.SentAt
		if since.IsZero() {
			since = t.scope.Now()
		}
		e = &entry{typer: Typer{UserID: ev.UserID, Username: ev.Username, Since: since}}
		t.users[ev.UserID] = e
	} else if e.watchdog != nil {
		e.watchdog.Stop()
	}
	if ev.Username != "" {
		e.typer.Username = ev.Username
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	userID := ev.UserID
	e.watchdog = t.scope.AfterFunc(t.opts.Watchdog, func() { t.expire(userID, gen) })
	return !ok
}

func (t *Tracker) removeLocked(userID string) bool {
	e, ok := t.users[userID]
	if !ok {
		return false
	}
	if e.watchdog != nil {
		e.watchdog.Stop()
	}
	delete(t.users, userID)
	return true
}

func (t *Tracker) expire(userID string, gen uint64) {
	t.mu.Lock()
	e, ok := t.users[userID]
	if t.closed || !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	snap := t.snapshotIfLocked(true)
	t.mu.Unlock()
	t.notify(snap)
}

func (t *Tracker) snapshotIfLocked(changed bool) []Typer {
	if !changed || t.OnChange == nil {
		return nil
	}
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []Typer {
	out := make([]Typer, 0, len(t.users))
	for _, e := range t.users {
		out = append(out, e.typer)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

func (t *Tracker) notify(snap []Typer) {
	if snap != nil && t.OnChange != nil {
		t.OnChange(snap)
	}
}
