// Package timers даёт компонентам с таймерами (typing, stories, recorder) общий источник времени
// и Scope — владельца таймеров, который гарантированно гасит их при teardown.
package timers

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer — отменяемый таймер. Stop возвращает false, если таймер уже сработал или остановлен.
type Timer interface {
	Stop() bool
}

// Clock — источник времени. В проде Real(), в тестах timerstest.Clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// clockworkClock сужает clockwork.Clock до Clock.
type clockworkClock struct {
	c clockwork.Clock
}

// FromClockwork оборачивает часы clockwork (системные или fake).
func FromClockwork(c clockwork.Clock) Clock { return clockworkClock{c: c} }

// Real возвращает системные часы.
func Real() Clock { return FromClockwork(clockwork.NewRealClock()) }

func (c clockworkClock) Now() time.Time { return c.c.Now() }

func (c clockworkClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.c.AfterFunc(d, f)
}

// OrReal подставляет системные часы вместо nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}
