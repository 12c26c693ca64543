package voice

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// FailoverCapture prefers the primary backend and switches to the fallback
// when the primary fails to start or reports an error. Once the fallback is
// active it stays active until it fails itself; then the primary is retried.
type FailoverCapture struct {
	primary  Capture
	fallback Capture

	fallbackActive atomic.Bool

	mu     sync.Mutex
	active Capture
}

func NewFailoverCapture(primary, fallback Capture) *FailoverCapture {
	return &FailoverCapture{primary: primary, fallback: fallback}
}

func (f *FailoverCapture) Name() string {
	if f.fallbackActive.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}

// FallbackActive reports whether the next Start goes to the fallback first.
func (f *FailoverCapture) FallbackActive() bool { return f.fallbackActive.Load() }

func (f *FailoverCapture) Start(ctx context.Context, language string, sink func(Event)) error {
	first, second := f.primary, f.fallback
	if f.fallbackActive.Load() {
		first, second = f.fallback, f.primary
	}

	firstErr := first.Start(ctx, language, f.watch(first, sink))
	if firstErr == nil {
		f.setActive(first)
		return nil
	}
	secondErr := second.Start(ctx, language, f.watch(second, sink))
	if secondErr != nil {
		return fmt.Errorf("%s failed: %v; %s failed: %w", first.Name(), firstErr, second.Name(), secondErr)
	}
	log.Printf("[voice] capture %s failed, using %s: %v", first.Name(), second.Name(), firstErr)
	f.fallbackActive.Store(second == f.fallback)
	f.setActive(second)
	return nil
}

func (f *FailoverCapture) Stop(abort bool) {
	f.mu.Lock()
	active := f.active
	f.active = nil
	f.mu.Unlock()
	if active != nil {
		active.Stop(abort)
	}
}

func (f *FailoverCapture) setActive(c Capture) {
	f.mu.Lock()
	f.active = c
	f.mu.Unlock()
}

// watch flips the preference when a running backend reports an error.
func (f *FailoverCapture) watch(c Capture, sink func(Event)) func(Event) {
	return func(evt Event) {
		if evt.Kind == EventError {
			f.fallbackActive.Store(c == f.primary)
		}
		sink(evt)
	}
}
