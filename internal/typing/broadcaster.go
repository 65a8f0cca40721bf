package typing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/timers"
)

// publishTimeout bounds a publish issued from a timer callback.
const publishTimeout = 3 * time.Second

// Options tune a Broadcaster or Tracker. Zero values fall back to defaults.
type Options struct {
	Throttle time.Duration
	Debounce time.Duration
	Watchdog time.Duration
	Clock    timers.Clock
}

func (o Options) withDefaults() Options {
	if o.Throttle <= 0 {
		o.Throttle = DefaultThrottle
	}
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Watchdog <= 0 {
		o.Watchdog = DefaultWatchdog
	}
	o.Clock = timers.OrReal(o.Clock)
	return o
}

// Broadcaster is the sender side for one user in one chat. Call StartTyping on every
// keystroke; it throttles true-broadcasts and publishes false after a quiet period.
type Broadcaster struct {
	chatID   string
	userID   string
	username string
	pub      Publisher
	opts     Options
	scope    *timers.Scope

	mu       sync.Mutex
	limiter  *rate.Limiter
	active   bool
	debounce timers.Timer
	gen      uint64
	closed   bool
}

// NewBroadcaster creates a sender for (chatID, userID).
func NewBroadcaster(pub Publisher, chatID, userID, username string, opts Options) *Broadcaster {
	opts = opts.withDefaults()
	return &Broadcaster{
		chatID:   chatID,
		userID:   userID,
		username: username,
		pub:      pub,
		opts:     opts,
		scope:    timers.NewScope(opts.Clock),
		limiter:  newLimiter(opts.Throttle),
	}
}

func newLimiter(every time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(every), 1)
}

// StartTyping announces typing (subject to the throttle) and re-arms the debounce.
func (b *Broadcaster) StartTyping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	var err error
	now := b.scope.Now()
	if b.limiter.AllowN(now, 1) {
		err = b.publishLocked(ctx, true, now)
		b.active = true
	}
	b.armLocked()
	return err
}

// StopTyping cancels the debounce and publishes isTyping=false.
func (b *Broadcaster) StopTyping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	return b.stopLocked(ctx)
}

// Active reports whether the last broadcast was isTyping=true.
func (b *Broadcaster) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Close cancels timers; a showing indicator is withdrawn best-effort.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.active {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		_ = b.stopLocked(ctx)
		cancel()
	}
	b.closed = true
	b.scope.Close()
}

func (b *Broadcaster) stopLocked(ctx context.Context) error {
	b.gen++
	if b.debounce != nil {
		b.debounce.Stop()
		b.debounce = nil
	}
	b.active = false
	b.limiter = newLimiter(b.opts.Throttle)
	return b.publishLocked(ctx, false, b.scope.Now())
}

func (b *Broadcaster) armLocked() {
	if b.debounce != nil {
		b.debounce.Stop()
	}
	b.gen++
	gen := b.gen
	b.debounce = b.scope.AfterFunc(b.opts.Debounce, func() { b.expire(gen) })
}

func (b *Broadcaster) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || gen != b.gen {
		return
	}
	b.debounce = nil
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	_ = b.stopLocked(ctx)
}

// publishLocked runs under b.mu so one sender's events leave in order.
func (b *Broadcaster) publishLocked(ctx context.Context, typing bool, now time.Time) error {
	err := b.pub.PublishTyping(ctx, Event{
		ChatID:   b.chatID,
		UserID:   b.userID,
		Username: b.username,
		IsTyping: typing,
		SentAt:   now,
	})
	if err != nil {
		logger.Warnf("typing publish chat=%s user=%s typing=%v: %v", b.chatID, b.userID, typing, err)
	}
	return err
}
