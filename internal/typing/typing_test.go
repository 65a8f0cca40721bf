package typing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/internal/timers/timerstest"
)

var epoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) PublishTyping(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) flags() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.IsTyping)
	}
	return out
}

func newSender(clk *timerstest.Clock, pub Publisher) *Broadcaster {
	return NewBroadcaster(pub, "chat-1", "alice", "Alice", Options{Clock: clk})
}

func TestStartTypingThrottled(t *testing.T) {
	clk := timerstest.New(epoch)
	rec := &recorder{}
	b := newSender(clk, rec)
	ctx := context.Background()

	require.NoError(t, b.StartTyping(ctx))
	clk.Advance(500 * time.Millisecond)
	require.NoError(t, b.StartTyping(ctx))
	assert.Equal(t, []bool{true}, rec.flags())

	clk.Advance(500 * time.Millisecond)
	require.NoError(t, b.StartTyping(ctx))
	assert.Equal(t, []bool{true, true}, rec.flags())
	assert.Equal(t, "chat-1", rec.events[0].ChatID)
	assert.Equal(t, "Alice", rec.events[0].Username)
}

func TestDebounceStopsAutomatically(t *testing.T) {
	clk := timerstest.New(epoch)
	rec := &recorder{}
	b := newSender(clk, rec)

	require.NoError(t, b.StartTyping(context.Background()))
	clk.Advance(1999 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.flags())
	assert.True(t, b.Active())

	clk.Advance(time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.flags())
	assert.False(t, b.Active())

	clk.Advance(10 * time.Second)
	assert.Equal(t, []bool{true, false}, rec.flags())
}

func TestKeystrokesPostponeDebounce(t *testing.T) {
	clk := timerstest.New(epoch)
	rec := &recorder{}
	b := newSender(clk, rec)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, b.StartTyping(ctx))
		clk.Advance(1500 * time.Millisecond)
	}
	// 0, 1.5s, 3s, 4.5s, 6s: throttle allows 0, 1.5, 3, 4.5, 6
	assert.Equal(t, []bool{true, true, true, true, true}, rec.flags())
	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, false, rec.flags()[len(rec.flags())-1])
}

func TestStopResetsThrottle(t *testing.T) {
	clk := timerstest.New(epoch)
	rec := &recorder{}
	b := newSender(clk, rec)
	ctx := context.Background()

	require.NoError(t, b.StartTyping(ctx))
	clk.Advance(200 * time.Millisecond)
	require.NoError(t, b.StopTyping(ctx))
	clk.Advance(100 * time.Millisecond)
	require.NoError(t, b.StartTyping(ctx))
	assert.Equal(t, []bool{true, false, true}, rec.flags())
}

func TestBroadcasterCloseWithdrawsAndCancels(t *testing.T) {
	clk := timerstest.New(epoch)
	rec := &recorder{}
	b := newSender(clk, rec)

	require.NoError(t, b.StartTyping(context.Background()))
	b.Close()
	assert.Equal(t, []bool{true, false}, rec.flags())
	assert.Equal(t, 0, clk.Pending())

	clk.Advance(time.Minute)
	require.NoError(t, b.StartTyping(context.Background()))
	assert.Equal(t, []bool{true, false}, rec.flags())
}

func TestPublishErrorIsReturned(t *testing.T) {
	clk := timerstest.New(epoch)
	rec := &recorder{err: errors.New("bus down")}
	b := newSender(clk, rec)
	assert.Error(t, b.StartTyping(context.Background()))
}

func TestTrackerIgnoresSelf(t *testing.T) {
	clk := timerstest.New(epoch)
	tr := NewTracker("alice", Options{Clock: clk})
	tr.Handle(Event{ChatID: "c", UserID: "alice", IsTyping: true})
	assert.Empty(t, tr.Typing())
}

func TestTrackerDedupAndWatchdog(t *testing.T) {
	clk := timerstest.New(epoch)
	tr := NewTracker("me", Options{Clock: clk})
	var changes [][]Typer
	tr.OnChange = func(list []Typer) { changes = append(changes, list) }

	tr.Handle(Event{ChatID: "c", UserID: "bob", Username: "Bob", IsTyping: true, SentAt: clk.Now()})
	clk.Advance(2 * time.Second)
	tr.Handle(Event{ChatID: "c", UserID: "bob", Username: "Bob", IsTyping: true})
	require.Len(t, tr.Typing(), 1)
	assert.Len(t, changes, 1)

	// watchdog re-armed at t=2s, so bob survives until t=5s
	clk.Advance(2999 * time.Millisecond)
	assert.Equal(t, 1, tr.Len())
	clk.Advance(time.Millisecond)
	assert.Equal(t, 0, tr.Len())
	require.Len(t, changes, 2)
	assert.Empty(t, changes[1])
}

func TestTrackerStopRemovesImmediately(t *testing.T) {
	clk := timerstest.New(epoch)
	tr := NewTracker("me", Options{Clock: clk})
	tr.Handle(Event{ChatID: "c", UserID: "bob", IsTyping: true})
	tr.Handle(Event{ChatID: "c", UserID: "carol", IsTyping: true})
	tr.Handle(Event{ChatID: "c", UserID: "bob", IsTyping: false})

	list := tr.Typing()
	require.Len(t, list, 1)
	assert.Equal(t, "carol", list[0].UserID)
	assert.Equal(t, 1, clk.Pending())
}

func TestTrackerFailClears(t *testing.T) {
	clk := timerstest.New(epoch)
	tr := NewTracker("me", Options{Clock: clk})
	tr.Handle(Event{ChatID: "c", UserID: "bob", IsTyping: true})
	tr.Fail(errors.New("subscription closed"))
	assert.Empty(t, tr.Typing())
	assert.Equal(t, 0, clk.Pending())
}

func TestTrackerCloseStopsWatchdogs(t *testing.T) {
	clk := timerstest.New(epoch)
	tr := NewTracker("me", Options{Clock: clk})
	fired := false
	tr.OnChange = func([]Typer) { fired = true }
	tr.Handle(Event{ChatID: "c", UserID: "bob", IsTyping: true})
	fired = false
	tr.Close()
	clk.Advance(time.Minute)
	assert.False(t, fired)
	tr.Handle(Event{ChatID: "c", UserID: "dave", IsTyping: true})
	assert.Equal(t, 0, tr.Len())
}

func TestRegistry(t *testing.T) {
	clk := timerstest.New(epoch)
	reg := NewRegistry(Options{Clock: clk})
	reg.Handle(Event{ChatID: "c1", UserID: "bob", IsTyping: true})
	reg.Handle(Event{ChatID: "c1", UserID: "alice", IsTyping: true})
	reg.Handle(Event{ChatID: "c2", UserID: "bob", IsTyping: false})

	got := reg.Typing("c1", "alice")
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)
	assert.Empty(t, reg.Typing("c2", "alice"))

	clk.Advance(DefaultWatchdog)
	assert.Equal(t, 1, reg.Sweep())
	assert.Empty(t, reg.Typing("c1", "x"))
}

func TestRegistryFailAll(t *testing.T) {
	clk := timerstest.New(epoch)
	reg := NewRegistry(Options{Clock: clk})
	reg.Handle(Event{ChatID: "c1", UserID: "bob", IsTyping: true})
	reg.FailAll(errors.New("redis gone"))
	assert.Empty(t, reg.Typing("c1", ""))
}

func TestCodec(t *testing.T) {
	ev := Event{ChatID: "c1", UserID: "u1", Username: "U", IsTyping: true, SentAt: epoch}
	data, err := Encode(ev)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, got.SentAt.Equal(epoch))
	assert.Equal(t, ev.UserID, got.UserID)

	_, err = Decode([]byte(`{"chat_id":"c1"}`))
	assert.Error(t, err)

	id, ok := ChatFromChannel(Channel("c9"))
	assert.True(t, ok)
	assert.Equal(t, "c9", id)
	_, ok = ChatFromChannel("presence:c9")
	assert.False(t, ok)
}
