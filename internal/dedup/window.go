// Package dedup suppresses repeated renders of the same content that the
// server may deliver more than once within a short window.
package dedup

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultWindow applies when a caller passes a non-positive window.
	DefaultWindow = 2500 * time.Millisecond

	pruneAbove = 500
	pruneTo    = 300
	pruneAge   = 60 * time.Second
)

// Window is a bounded fingerprint -> last-seen map.
type Window struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

// New returns an empty window. now may be nil for wall-clock time.
func New(now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{now: now, seen: make(map[string]time.Time)}
}

// Seen reports whether key was recorded less than window ago. The key is
// recorded as seen now either way.
func (w *Window) Seen(key string, window time.Duration) bool {
	if key == "" {
		return false
	}
	if window <= 0 {
		window = DefaultWindow
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	last, ok := w.seen[key]
	w.seen[key] = now
	if len(w.seen) > pruneAbove {
		w.pruneLocked(now)
	}
	return ok && now.Sub(last) < window
}

// Len returns the number of tracked fingerprints.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) pruneLocked(now time.Time) {
	for k, at := range w.seen {
		if now.Sub(at) > pruneAge {
			delete(w.seen, k)
		}
	}
	if len(w.seen) <= pruneTo {
		return
	}
	type entry struct {
		key string
		at  time.Time
	}
	entries := make([]entry, 0, len(w.seen))
	for k, at := range w.seen {
		entries = append(entries, entry{k, at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })
	for _, e := range entries[:len(entries)-pruneTo] {
		delete(w.seen, e.key)
	}
}

// Prefix returns at most n runes of s, for building fingerprints.
func Prefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
