// Package outbound buffers commands issued while the channel is not ready
// and drains them in order once it is.
package outbound

import (
	"sync"

	"github.com/ent0n29/rhodes-client/internal/protocol"
)

// Transmitter is the readiness gate and the send path.
type Transmitter interface {
	// Ready reports an open channel with a successful authentication.
	Ready() bool
	Transmit(cmd protocol.Command) error
}

// Queue is a FIFO of pending commands.
type Queue struct {
	mu      sync.Mutex
	pending []protocol.Command
}

func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends cmd. It never fails.
func (q *Queue) Enqueue(cmd protocol.Command) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, cmd)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush drains the queue in order through tx. It is a no-op while tx is not
// ready. A command whose transmit fails goes back to the head and the drain
// stops; the next Flush retries it first.
func (q *Queue) Flush(tx Transmitter) (sent int, err error) {
	for {
		if !tx.Ready() {
			return sent, nil
		}
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return sent, nil
		}
		cmd := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		if err := tx.Transmit(cmd); err != nil {
			q.mu.Lock()
			q.pending = append([]protocol.Command{cmd}, q.pending...)
			q.mu.Unlock()
			return sent, err
		}
		sent++
	}
}

// Drop discards everything, used on logout.
func (q *Queue) Drop() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	return n
}
