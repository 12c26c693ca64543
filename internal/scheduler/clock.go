// Package scheduler provides the clock and timer slots every timed
// behaviour in the client goes through, so tests can drive virtual time.
package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending callback.
type Timer interface {
	// Stop reports whether the call prevented the callback from running.
	Stop() bool
}

// Clock is the time source used by connection, dispatch and voice code.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a virtual clock. Callbacks run synchronously inside Advance on
// the caller goroutine, in due-time order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

// NewFake starts virtual time at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

type fakeTimer struct {
	clock   *Fake
	due     time.Time
	delay   time.Duration
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.clock.removeLocked(t)
	return true
}

func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, due: c.now.Add(d), delay: d, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves virtual time forward by d, running every timer that falls
// due. Timers armed by callbacks also run if they are due within d.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.removeLocked(next)
		next.fired = true
		if next.due.After(c.now) {
			c.now = next.due
		}
		f := next.f
		c.mu.Unlock()
		f()
	}
}

// Pending returns the originally requested delays of armed timers in due
// order.
func (c *Fake) Pending() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	sorted := append([]*fakeTimer(nil), c.timers...)
	sortTimers(sorted)
	out := make([]time.Duration, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, t.delay)
	}
	return out
}

func (c *Fake) nextDueLocked(limit time.Time) *fakeTimer {
	var best *fakeTimer
	for _, t := range c.timers {
		if t.due.After(limit) {
			continue
		}
		if best == nil || t.due.Before(best.due) || (t.due.Equal(best.due) && t.seq < best.seq) {
			best = t
		}
	}
	return best
}

func (c *Fake) removeLocked(target *fakeTimer) {
	for i, t := range c.timers {
		if t == target {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return
		}
	}
}

func sortTimers(timers []*fakeTimer) {
	sort.Slice(timers, func(i, j int) bool {
		if timers[i].due.Equal(timers[j].due) {
			return timers[i].seq < timers[j].seq
		}
		return timers[i].due.Before(timers[j].due)
	})
}
