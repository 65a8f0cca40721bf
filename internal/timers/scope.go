package timers

import (
	"sync"
	"time"
)

// Scope владеет таймерами одной сессии. После Close ни один таймер scope не вызовет callback,
// а новые AfterFunc становятся no-op.
type Scope struct {
	clock Clock

	mu     sync.Mutex
	timers map[*scopedTimer]struct{}
	closed bool
}

type scopedTimer struct {
	scope *Scope
	inner Timer
	fn    func()
}

// NewScope создаёт scope поверх часов c (nil — системные часы).
func NewScope(c Clock) *Scope {
	return &Scope{clock: OrReal(c), timers: make(map[*scopedTimer]struct{})}
}

// Now возвращает текущее время часов scope.
func (s *Scope) Now() time.Time { return s.clock.Now() }

// Clock возвращает часы scope.
func (s *Scope) Clock() Clock { return s.clock }

// AfterFunc планирует f через d. Callback не вызывается, если scope закрыт или таймер остановлен.
func (s *Scope) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &scopedTimer{scope: s, fn: f}
	if s.closed {
		return t
	}
	s.timers[t] = struct{}{}
	t.inner = s.clock.AfterFunc(d, t.fire)
	return t
}

func (t *scopedTimer) fire() {
	s := t.scope
	s.mu.Lock()
	_, live := s.timers[t]
	delete(s.timers, t)
	s.mu.Unlock()
	if live {
		t.fn()
	}
}

func (t *scopedTimer) Stop() bool {
	s := t.scope
	s.mu.Lock()
	_, live := s.timers[t]
	delete(s.timers, t)
	s.mu.Unlock()
	if t.inner != nil {
		t.inner.Stop()
	}
	return live
}

// Pending — число ещё не сработавших таймеров.
func (s *Scope) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close останавливает все таймеры. Повторный вызов безопасен.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := make([]*scopedTimer, 0, len(s.timers))
	for t := range s.timers {
		pending = append(pending, t)
	}
	s.timers = make(map[*scopedTimer]struct{})
	s.mu.Unlock()

	for _, t := range pending {
		if t.inner != nil {
			t.inner.Stop()
		}
	}
}

// Closed сообщает, закрыт ли scope.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
