package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulse/internal/storage/memory"
	"github.com/pulse/internal/timers/timerstest"
)

var epoch = time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)

type fakeDevice struct {
	mu     sync.Mutex
	err    error
	open   int
	closes int
}

func (d *fakeDevice) Acquire(context.Context) (Input, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.open++
	return inputFunc(func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.open--
		d.closes++
		return nil
	}), nil
}

func (d *fakeDevice) held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type inputFunc func() error

func (f inputFunc) Close() error { return f() }

func newSession(clk *timerstest.Clock, dev Device, trs *[]string) *Session {
	return NewSession(dev, Options{
		Clock: clk,
		OnTransition: func(from, to State) {
			if trs != nil {
				*trs = append(*trs, from.String()+">"+to.String())
			}
		},
	})
}

func TestReleaseSends(t *testing.T) {
	clk := timerstest.New(epoch)
	dev := &fakeDevice{}
	var trs []string
	s := newSession(clk, dev, &trs)

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, Recording, s.State())
	assert.Equal(t, 1, dev.held())

	_, err := s.Write([]byte("abc"))
	require.NoError(t, err)
	clk.Advance(1200 * time.Millisecond)
	_, err = s.Write([]byte("def"))
	require.NoError(t, err)
	assert.Equal(t, 1200*time.Millisecond, s.Elapsed())

	out, err := s.Release()
	require.NoError(t, err)
	assert.Equal(t, Sending, out.State)
	require.NotNil(t, out.Clip)
	assert.Equal(t, []byte("abcdef"), out.Clip.Data)
	assert.Equal(t, 1200*time.Millisecond, out.Clip.Duration)
	assert.Equal(t, DefaultMIMEType, out.Clip.MIMEType)
	assert.Equal(t, 0, dev.held())
	assert.Equal(t, []string{"idle>recording", "recording>sending"}, trs)
	assert.Equal(t, 0, clk.Pending())
}

func TestReleaseTooShortCancels(t *testing.T) {
	clk := timerstest.New(epoch)
	dev := &fakeDevice{}
	s := newSession(clk, dev, nil)

	require.NoError(t, s.Start(context.Background()))
	_, _ = s.Write([]byte("abc"))
	clk.Advance(300 * time.Millisecond)

	out, err := s.Release()
	require.NoError(t, err)
	assert.Equal(t, Cancelled, out.State)
	assert.Equal(t, ReasonTooShort, out.Reason)
	assert.Nil(t, out.Clip)
	assert.Equal(t, 0, dev.held())
}

func TestSlideToCancel(t *testing.T) {
	clk := timerstest.New(epoch)
	dev := &fakeDevice{}
	s := newSession(clk, dev, nil)
	require.NoError(t, s.Start(context.Background()))
	clk.Advance(2 * time.Second)

	s.Track(3, -49)
	assert.False(t, s.Sliding())
	s.Track(3, -51)
	assert.True(t, s.Sliding())
	s.Track(0, -10)
	assert.False(t, s.Sliding(), "moving back disarms")
	s.Track(0, -80)

	out, err := s.Release()
	require.NoError(t, err)
	assert.Equal(t, Cancelled, out.State)
	assert.Equal(t, ReasonSlid, out.Reason)
	assert.Equal(t, 0, dev.held())
}

func TestPermissionDenied(t *testing.T) {
	clk := timerstest.New(epoch)
	dev := &fakeDevice{err: ErrPermissionDenied}
	var trs []string
	s := newSession(clk, dev, &trs)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, Cancelled, s.State())
	assert.Equal(t, 0, dev.held())
	assert.Equal(t, []string{"idle>cancelled"}, trs)

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotRecording)
	_, err = s.Release()
	assert.ErrorIs(t, err, ErrNotRecording)

	dev.err = nil
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, []string{"idle>cancelled", "cancelled>idle", "idle>recording"}, trs)
}

func TestAcquireErrorIsWrapped(t *testing.T) {
	boom := errors.New("redis down")
	s := newSession(timerstest.New(epoch), &fakeDevice{err: boom}, nil)
	err := s.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Cancelled, s.State())
}

func TestCancelAndClose(t *testing.T) {
	clk := timerstest.New(epoch)
	dev := &fakeDevice{}
	s := newSession(clk, dev, nil)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRecording)

	out := s.Cancel()
	assert.Equal(t, Cancelled, out.State)
	assert.Equal(t, 0, dev.held())

	require.NoError(t, s.Start(context.Background()))
	s.Close()
	assert.Equal(t, 0, dev.held())
	assert.Equal(t, 2, dev.closes)
	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestTicksAndMaxDuration(t *testing.T) {
	clk := timerstest.New(epoch)
	dev := &fakeDevice{}
	var ticks []time.Duration
	var limited *Outcome
	s := NewSession(dev, Options{
		Clock:       clk,
		MaxDuration: 3 * time.Second,
		OnTick:      func(d time.Duration) { ticks = append(ticks, d) },
		OnLimit:     func(o Outcome) { limited = &o },
	})
	require.NoError(t, s.Start(context.Background()))
	_, _ = s.Write([]byte("pcm"))

	clk.Advance(3 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, ticks)
	require.NotNil(t, limited)
	assert.Equal(t, Sending, limited.State)
	assert.Equal(t, ReasonTooLong, limited.Reason)
	assert.Equal(t, []byte("pcm"), limited.Clip.Data)
	assert.Equal(t, 0, dev.held())
	assert.Equal(t, Sending, s.State())
}

func TestWriteLimit(t *testing.T) {
	s := NewSession(&fakeDevice{}, Options{Clock: timerstest.New(epoch), MaxBytes: 4})
	require.NoError(t, s.Start(context.Background()))
	_, err := s.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = s.Write([]byte("de"))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLeaseDeviceExclusive(t *testing.T) {
	store := memory.New()
	clk := timerstest.New(epoch)
	a := NewSession(LeaseDevice{Store: store, UserID: "u1"}, Options{Clock: clk})
	b := NewSession(LeaseDevice{Store: store, UserID: "u1"}, Options{Clock: clk})
	other := NewSession(LeaseDevice{Store: store, UserID: "u2"}, Options{Clock: clk})

	require.NoError(t, a.Start(context.Background()))
	assert.ErrorIs(t, b.Start(context.Background()), ErrDeviceBusy)
	assert.Equal(t, Cancelled, b.State())
	require.NoError(t, other.Start(context.Background()))

	a.Cancel()
	require.NoError(t, b.Start(context.Background()))
}
