package scheduler

import (
	"sync"

	"github.com/kdyer/vaultrelay/internal/queue"
)

// retryQueue holds file_ready events that were queued because no backend
// had room, so the next cycle can retry them without re-draining the
// durable EventQueue.
type retryQueue struct {
	mu     sync.Mutex
	events []queue.Event
}

func newRetryQueue() *retryQueue {
	return &retryQueue{}
}

func (q *retryQueue) push(ev queue.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

// drain returns and clears all pending events.
func (q *retryQueue) drain() []queue.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
