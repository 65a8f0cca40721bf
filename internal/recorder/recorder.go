// Package recorder implements the press-and-hold voice capture session: acquire the
// input, buffer audio while the gesture is held, then send or discard on release.
package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pulse/internal/logger"
	"github.com/pulse/internal/timers"
)

const (
	DefaultMinDuration     = 500 * time.Millisecond
	DefaultMaxDuration     = 5 * time.Minute
	DefaultCancelThreshold = 50
	DefaultTick            = time.Second
	DefaultMaxBytes        = 8 << 20
	DefaultMIMEType        = "audio/webm"
)

var (
	ErrPermissionDenied = errors.New("recorder: microphone permission denied")
	ErrDeviceBusy       = errors.New("recorder: microphone is busy")
	ErrNotRecording     = errors.New("recorder: not recording")
	ErrAlreadyRecording = errors.New("recorder: already recording")
	ErrTooLarge         = errors.New("recorder: recording too large")
	ErrClosed           = errors.New("recorder: session closed")
)

type State int

const (
	Idle State = iota
	Recording
	Sending
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Sending:
		return "sending"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Input is an acquired capture handle. Close must be safe to call once.
type Input interface {
	Close() error
}

// Device hands out exclusive inputs.
type Device interface {
	Acquire(ctx context.Context) (Input, error)
}

// DeviceFunc adapts a function to Device.
type DeviceFunc func(ctx context.Context) (Input, error)

func (f DeviceFunc) Acquire(ctx context.Context) (Input, error) { return f(ctx) }

// Clip is a finished recording.
type Clip struct {
	Data     []byte
	Duration time.Duration
	MIMEType string
}

// Outcome of a finished session. Clip is set only when State is Sending.
type Outcome struct {
	State  State
	Clip   *Clip
	Reason string
}

// Cancel reasons reported in Outcome.Reason.
const (
	ReasonSlid     = "slid_to_cancel"
	ReasonTooShort = "too_short"
	ReasonCancel   = "cancelled"
	ReasonTooLong  = "max_duration"
)

type Options struct {
	MinDuration     time.Duration
	MaxDuration     time.Duration
	CancelThreshold float64
	Tick            time.Duration
	MaxBytes        int
	MIMEType        string
	Clock           timers.Clock

	// OnTransition observes every state change, outside the session lock.
	OnTransition func(from, to State)
	// OnTick reports elapsed time every Tick while recording.
	OnTick func(elapsed time.Duration)
	// OnLimit receives the outcome when MaxDuration ends the recording by itself.
	OnLimit func(Outcome)
}

func (o Options) withDefaults() Options {
	if o.MinDuration <= 0 {
		o.MinDuration = DefaultMinDuration
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = DefaultMaxDuration
	}
	if o.CancelThreshold <= 0 {
		o.CancelThreshold = DefaultCancelThreshold
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	if o.MIMEType == "" {
		o.MIMEType = DefaultMIMEType
	}
	o.Clock = timers.OrReal(o.Clock)
	return o
}

type transition struct{ from, to State }

// Session is one user's recorder. It is reusable: Start again after a send or cancel.
type Session struct {
	device Device
	opts   Options

	mu      sync.Mutex
	state   State
	input   Input
	buf     bytes.Buffer
	started time.Time
	sliding bool
	scope   *timers.Scope
	gen     uint64
	closed  bool
}

func NewSession(device Device, opts Options) *Session {
	return &Session{device: device, opts: opts.withDefaults()}
}

// Start acquires the input and begins recording. If acquisition fails the session
// goes straight to Cancelled and holds nothing.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Recording {
		s.mu.Unlock()
		return ErrAlreadyRecording
	}
	var trs []transition
	if s.state != Idle {
		trs = s.moveLocked(trs, Idle)
	}
	s.mu.Unlock()
	s.emit(trs)

	// Acquire outside the lock: a permission prompt may take a while.
	in, err := s.device.Acquire(ctx)

	s.mu.Lock()
	trs = nil
	if err == nil && (s.closed || s.state != Idle) {
		// Closed or started elsewhere while acquiring.
		s.mu.Unlock()
		closeInput(in)
		if s.isClosed() {
			return ErrClosed
		}
		return ErrAlreadyRecording
	}
	if err != nil {
		trs = s.moveLocked(trs, Cancelled)
		s.mu.Unlock()
		s.emit(trs)
		if errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("recorder.Start: %w", err)
	}
	s.input = in
	s.buf.Reset()
	s.sliding = false
	s.scope = timers.NewScope(s.opts.Clock)
	s.started = s.scope.Now()
	s.gen++
	s.armTickLocked(s.gen)
	trs = s.moveLocked(trs, Recording)
	s.mu.Unlock()
	s.emit(trs)
	return nil
}

// Write appends captured audio. It fails outside Recording.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return 0, ErrNotRecording
	}
	if s.buf.Len()+len(p) > s.opts.MaxBytes {
		return 0, ErrTooLarge
	}
	return s.buf.Write(p)
}

// Track updates the gesture displacement. Moving up past the threshold arms
// slide-to-cancel; moving back disarms it.
func (s *Session) Track(dx, dy float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return
	}
	s.sliding = dy < -s.opts.CancelThreshold
}

// Sliding reports whether releasing now would cancel because of the gesture.
func (s *Session) Sliding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Recording && s.sliding
}

// Release ends the gesture: long enough and not sliding sends, anything else cancels.
func (s *Session) Release() (Outcome, error) {
	s.mu.Lock()
	if s.state != Recording {
		st := s.state
		s.mu.Unlock()
		return Outcome{State: st}, ErrNotRecording
	}
	out, trs, in := s.finishLocked(false)
	s.mu.Unlock()
	closeInput(in)
	s.emit(trs)
	return out, nil
}

// Cancel discards the recording. It is a no-op outside Recording.
func (s *Session) Cancel() Outcome {
	s.mu.Lock()
	if s.state != Recording {
		st := s.state
		s.mu.Unlock()
		return Outcome{State: st}
	}
	out, trs, in := s.cancelLocked(ReasonCancel)
	s.mu.Unlock()
	closeInput(in)
	s.emit(trs)
	return out
}

// Close cancels any recording and rejects further use.
func (s *Session) Close() {
	s.Cancel()
	s.mu.Lock()
	s.closed = true
	if s.scope != nil {
		s.scope.Close()
	}
	s.mu.Unlock()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the duration of the current recording, zero when not recording.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return 0
	}
	return s.scope.Now().Sub(s.started)
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finishLocked decides the release outcome. force marks a MaxDuration stop, which
// sends whatever was captured.
func (s *Session) finishLocked(force bool) (Outcome, []transition, Input) {
	elapsed := s.scope.Now().Sub(s.started)
	if !force {
		if s.sliding {
			return s.cancelLocked(ReasonSlid)
		}
		if elapsed < s.opts.MinDuration {
			return s.cancelLocked(ReasonTooShort)
		}
	}
	clip := &Clip{
		Data:     append([]byte(nil), s.buf.Bytes()...),
		Duration: elapsed,
		MIMEType: s.opts.MIMEType,
	}
	in := s.teardownLocked()
	trs := s.moveLocked(nil, Sending)
	out := Outcome{State: Sending, Clip: clip}
	if force {
		out.Reason = ReasonTooLong
	}
	return out, trs, in
}

func (s *Session) cancelLocked(reason string) (Outcome, []transition, Input) {
	in := s.teardownLocked()
	trs := s.moveLocked(nil, Cancelled)
	return Outcome{State: Cancelled, Reason: reason}, trs, in
}

// teardownLocked drops buffered audio and timers and hands back the input to close.
func (s *Session) teardownLocked() Input {
	s.gen++
	if s.scope != nil {
		s.scope.Close()
	}
	s.buf.Reset()
	s.sliding = false
	in := s.input
	s.input = nil
	return in
}

func (s *Session) armTickLocked(gen uint64) {
	s.scope.AfterFunc(s.opts.Tick, func() { s.tick(gen) })
}

func (s *Session) tick(gen uint64) {
	s.mu.Lock()
	if s.state != Recording || gen != s.gen {
		s.mu.Unlock()
		return
	}
	elapsed := s.scope.Now().Sub(s.started)
	if elapsed >= s.opts.MaxDuration {
		out, trs, in := s.finishLocked(true)
		s.mu.Unlock()
		closeInput(in)
		s.emit(trs)
		if s.opts.OnLimit != nil {
			s.opts.OnLimit(out)
		}
		return
	}
	s.armTickLocked(gen)
	s.mu.Unlock()
	if s.opts.OnTick != nil {
		s.opts.OnTick(elapsed)
	}
}

func (s *Session) moveLocked(trs []transition, to State) []transition {
	from := s.state
	s.state = to
	return append(trs, transition{from, to})
}

func (s *Session) emit(trs []transition) {
	if s.opts.OnTransition == nil {
		return
	}
	for _, t := range trs {
		s.opts.OnTransition(t.from, t.to)
	}
}

func closeInput(in Input) {
	if in == nil {
		return
	}
	if err := in.Close(); err != nil {
		logger.Warnf("recorder: release input: %v", err)
	}
}
