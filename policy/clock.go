package policy

import (
	"sync/atomic"
	"time"
)

// Clock is an interface for getting the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc is a function type that implements the Clock interface.
type ClockFunc func() time.Time

// Now calls the function.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock is the default clock that uses time.Now.
var SystemClock Clock = ClockFunc(time.Now)

// UpdateMark is the instant of the last content update.
// It starts at construction time and never moves backwards,
// even if the clock does.
type UpdateMark struct {
	clock Clock
	nanos atomic.Int64
}

// NewUpdateMark creates a mark set to the current time of clock.
// A nil clock means SystemClock.
func NewUpdateMark(clock Clock) *UpdateMark {
	if clock == nil {
		clock = SystemClock
	}
	m := &UpdateMark{clock: clock}
	m.nanos.Store(clock.Now().UnixNano())
	return m
}

// Touch moves the mark to the current time and returns the resulting mark.
func (m *UpdateMark) Touch() time.Time {
	now := m.clock.Now().UnixNano()
	for {
		prev := m.nanos.Load()
		if now <= prev {
			return time.Unix(0, prev)
		}
		if m.nanos.CompareAndSwap(prev, now) {
			return time.Unix(0, now)
		}
	}
}

// Time returns the mark.
func (m *UpdateMark) Time() time.Time {
	return time.Unix(0, m.nanos.Load())
}

// NotBefore reports whether t is at or after the mark, on the wall clock.
func (m *UpdateMark) NotBefore(t time.Time) bool {
	return t.UnixNano() >= m.nanos.Load()
}
