package action

import (
	"sync"
	"time"
)

// Queue is a FIFO of pending capability invocations drained by a single
// goroutine. Each invocation runs fire-and-forget in its own goroutine; the
// drain loop sleeps the pacing interval between launches, so pacing is
// measured between invocation starts, not completions.
type Queue struct {
	mu       sync.Mutex
	items    []func()
	draining bool
	pace     time.Duration
}

// NewQueue creates a queue with the given pacing delay between invocations.
func NewQueue(pace time.Duration) *Queue {
	return &Queue{pace: pace}
}

// Push appends an invocation and starts the drain goroutine if one is not
// already running.
func (q *Queue) Push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	go q.drain()
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		go fn()

		if q.pace > 0 {
			time.Sleep(q.pace)
		}
	}
}

// Len reports the number of invocations still waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
