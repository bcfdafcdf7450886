package ble

import (
	"context"
	"sync"
)

// eventQueue runs posted events one at a time on the goroutine that drains
// it. Posting never blocks, so a running event may post further events;
// those run after it returns.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{wake: make(chan struct{}, 1)}
}

// post appends fn to the queue. Safe for concurrent use.
func (q *eventQueue) post(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until ctx is cancelled. Events still queued at
// cancellation are left for runPending.
func (q *eventQueue) run(ctx context.Context) {
	for {
		q.runPending()
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}
	}
}

// runPending runs queued events, including ones posted while draining,
// until the queue is empty.
func (q *eventQueue) runPending() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// size returns the number of queued events.
func (q *eventQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
