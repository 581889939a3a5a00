package job

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of job ids with concurrent producers and a
// single consumer. Enqueue never blocks; the consumer is woken through a
// coalesced signal channel instead of polling.
type Queue struct {
	mu   sync.Mutex
	ids  []string
	wake chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends a job id and wakes the consumer if it is waiting.
func (q *Queue) Enqueue(id string) {
	q.mu.Lock()
	q.ids = append(q.ids, id)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an id is available or the context is cancelled.
// The second return value is false only on cancellation.
func (q *Queue) Dequeue(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.ids) > 0 {
			id := q.ids[0]
			q.ids = q.ids[1:]
			q.mu.Unlock()
			return id, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false
		case <-q.wake:
		}
	}
}

// Len returns the number of ids currently waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}
