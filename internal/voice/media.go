package voice

import "sync"

// mediaQueue runs microphone and speaker operations one at a time in the
// order they were queued. Whoever calls drain first runs every queued op,
// including ops queued while it runs; concurrent callers return at once.
type mediaQueue struct {
	mu      sync.Mutex
	ops     []func()
	running bool
}

func (q *mediaQueue) push(op func()) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()
}

func (q *mediaQueue) drain() {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	for len(q.ops) > 0 {
		op := q.ops[0]
		q.ops = q.ops[1:]
		q.mu.Unlock()
		op()
		q.mu.Lock()
	}
	q.running = false
	q.mu.Unlock()
}

func (q *mediaQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}
