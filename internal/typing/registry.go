package typing

import (
	"sync"

	"github.com/pulse/internal/logger"
)

// Registry keeps one server-side Tracker per chat. The server has no "self", so
// Typing filters the viewer out instead.
type Registry struct {
	opts Options

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{opts: opts.withDefaults(), trackers: make(map[string]*Tracker)}
}

// Handle routes an event to its chat's tracker.
func (r *Registry) Handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tr, ok := r.trackers[ev.ChatID]
	if !ok {
		if !ev.IsTyping {
			return
		}
		tr = NewTracker("", r.opts)
		r.trackers[ev.ChatID] = tr
	}
	tr.Handle(ev)
}

// Typing lists who is typing in chatID, excluding viewerID.
func (r *Registry) Typing(chatID, viewerID string) []Typer {
	r.mu.Lock()
	tr, ok := r.trackers[chatID]
	r.mu.Unlock()
	if !ok {
		return []Typer{}
	}
	all := tr.Typing()
	out := all[:0]
	for _, t := range all {
		if t.UserID != viewerID {
			out = append(out, t)
		}
	}
	return out
}

// FailAll clears every chat after a bus failure.
func (r *Registry) FailAll(err error) {
	if err != nil {
		logger.Warnf("typing bus failed, clearing all indicators: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tr := range r.trackers {
		tr.Fail(nil)
	}
}

// Sweep drops trackers with nobody typing and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, tr := range r.trackers {
		if tr.Len() == 0 {
			tr.Close()
			delete(r.trackers, id)
			n++
		}
	}
	return n
}

// Close stops all trackers.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, tr := range r.trackers {
		tr.Close()
		delete(r.trackers, id)
	}
}
