package ephemeral

import (
	"sync"
	"time"

	"github.com/pulse/internal/timers"
)

const (
	DefaultViewWindow = 5 * time.Second
	DefaultTick       = 50 * time.Millisecond
)

// Options configure a Viewer. Callbacks run outside the viewer's lock and may call back
// into it.
type Options struct {
	ViewWindow time.Duration
	Tick       time.Duration
	Clock      timers.Clock
	// OnEnter fires once each time an item is shown.
	OnEnter func(index int, it Item)
	// OnClose fires once when the viewer closes.
	OnClose func()
}

// Viewer plays items forward, one after another. Each item is shown for
// min(ViewWindow, time left until it expires); progress is counted in ticks.
type Viewer struct {
	items []Item
	opts  Options
	scope *timers.Scope

	mu       sync.Mutex
	index    int
	duration time.Duration
	elapsed  time.Duration
	started  bool
	paused   bool
	closed   bool
	ticker   timers.Timer
	gen      uint64
}

// NewViewer prepares a viewer over items. Nothing happens until Start.
func NewViewer(items []Item, opts Options) *Viewer {
	if opts.ViewWindow <= 0 {
		opts.ViewWindow = DefaultViewWindow
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}
	opts.Clock = timers.OrReal(opts.Clock)
	return &Viewer{
		items: append([]Item(nil), items...),
		opts:  opts,
		scope: timers.NewScope(opts.Clock),
		index: -1,
	}
}

// callbacks collected under the lock and run after it is released.
type pending []func()

func (p pending) run() {
	for _, f := range p {
		f()
	}
}

// Start shows the first item. An empty or fully expired sequence closes immediately.
func (v *Viewer) Start() {
	v.mu.Lock()
	if v.started || v.closed {
		v.mu.Unlock()
		return
	}
	v.started = true
	cbs := v.enterLocked(0, nil)
	v.mu.Unlock()
	cbs.run()
}

// Advance moves to the next item, closing after the last one.
func (v *Viewer) Advance() {
	v.mu.Lock()
	if !v.started || v.closed {
		v.mu.Unlock()
		return
	}
	cbs := v.enterLocked(v.index+1, nil)
	v.mu.Unlock()
	cbs.run()
}

// GoBack restarts the previous item, or the first one when already there.
func (v *Viewer) GoBack() {
	v.mu.Lock()
	if !v.started || v.closed {
		v.mu.Unlock()
		return
	}
	i := v.index - 1
	if i < 0 {
		i = 0
	}
	cbs := v.enterLocked(i, nil)
	v.mu.Unlock()
	cbs.run()
}

// Close stops the viewer and its ticker. Safe to call repeatedly.
func (v *Viewer) Close() {
	v.mu.Lock()
	cbs := v.closeLocked(nil)
	v.mu.Unlock()
	cbs.run()
}

// Pause freezes progress without resetting it.
func (v *Viewer) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || v.closed || v.paused {
		return
	}
	v.paused = true
	v.stopTickerLocked()
}

// Resume continues from the frozen progress.
func (v *Viewer) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.started || v.closed || !v.paused {
		return
	}
	v.paused = false
	v.armLocked()
}

// Progress is the share of the current item already shown, in [0,1].
func (v *Viewer) Progress() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.progressLocked()
}

// Index of the current item; -1 before Start.
func (v *Viewer) Index() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.index
}

// Current returns the item being shown.
func (v *Viewer) Current() (Item, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.index < 0 || v.index >= len(v.items) {
		return Item{}, false
	}
	return v.items[v.index], true
}

// Duration of the current item.
func (v *Viewer) Duration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.duration
}

func (v *Viewer) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

func (v *Viewer) Closed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *Viewer) progressLocked() float64 {
	if v.duration <= 0 {
		if v.index >= 0 {
			return 1
		}
		return 0
	}
	p := float64(v.elapsed) / float64(v.duration)
	if p > 1 {
		return 1
	}
	return p
}

// enterLocked shows item i, skipping items that are already expired. Running off the
// end closes the viewer.
func (v *Viewer) enterLocked(i int, cbs pending) pending {
	v.stopTickerLocked()
	v.paused = false
	for ; i < len(v.items); i++ {
		it := v.items[i]
		v.index = i
		v.elapsed = 0
		v.duration = ViewDuration(v.opts.ViewWindow, it.ExpiresAt, v.scope.Now())
		if v.duration == 0 {
			continue
		}
		if v.opts.OnEnter != nil {
			idx, item := i, it
			cbs = append(cbs, func() { v.opts.OnEnter(idx, item) })
		}
		v.armLocked()
		return cbs
	}
	return v.closeLocked(cbs)
}

func (v *Viewer) closeLocked(cbs pending) pending {
	if v.closed {
		return cbs
	}
	v.closed = true
	v.stopTickerLocked()
	v.scope.Close()
	if v.opts.OnClose != nil {
		cbs = append(cbs, v.opts.OnClose)
	}
	return cbs
}

func (v *Viewer) armLocked() {
	v.gen++
	gen := v.gen
	v.ticker = v.scope.AfterFunc(v.opts.Tick, func() { v.tick(gen) })
}

func (v *Viewer) stopTickerLocked() {
	v.gen++
	if v.ticker != nil {
		v.ticker.Stop()
		v.ticker = nil
	}
}

func (v *Viewer) tick(gen uint64) {
	v.mu.Lock()
	if v.closed || v.paused || gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.elapsed += v.opts.Tick
	var cbs pending
	if v.elapsed >= v.duration {
		v.elapsed = v.duration
		cbs = v.enterLocked(v.index+1, nil)
	} else {
		v.armLocked()
	}
	v.mu.Unlock()
	cbs.run()
}
