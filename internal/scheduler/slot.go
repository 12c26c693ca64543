package scheduler

import (
	"sync"
	"time"
)

// Slot holds at most one armed timer. Arming replaces whatever was armed.
type Slot struct {
	clock Clock

	mu    sync.Mutex
	timer Timer
	gen   uint64
}

// NewSlot returns an empty slot on clock.
func NewSlot(clock Clock) *Slot {
	return &Slot{clock: clock}
}

// Arm cancels any pending callback and schedules f after d.
func (s *Slot) Arm(d time.Duration, f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		f()
	})
}

// Cancel drops the pending callback, if any.
func (s *Slot) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Armed reports whether a callback is pending.
func (s *Slot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
