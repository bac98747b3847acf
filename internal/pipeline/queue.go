package pipeline

import (
	"sync"

	"offerwatchd/internal/event"
	"offerwatchd/internal/state"
)

// task is the unit flowing through the serialized queue. Exactly one
// field is set. Synthetic tasks (timeout, decide, reset) ride the same
// queue as raw events so that a single worker remains the only writer
// of overlay state.
type task struct {
	raw     *event.Raw
	timeout *timeoutTask
	decide  *state.Decision
	reset   bool
}

// timeoutTask asks the worker to expire the tracked order, if the
// fingerprint still matches.
type timeoutTask struct {
	fingerprint string
}

// queue is a bounded FIFO with drop-oldest overflow. Producers (the OS
// callback glue, the expiry timer) never block: when the queue is full
// the oldest unprocessed event gives way, since stale context is worth
// less than the latest screen state.
type queue struct {
	mu     sync.Mutex
	items  []task
	max    int
	closed bool
	signal chan struct{} // buffered size 1, coalesces wakeups
}

func newQueue(max int) *queue {
	if max <= 0 {
		max = 50
	}
	return &queue{
		items:  make([]task, 0, max),
		max:    max,
		signal: make(chan struct{}, 1),
	}
}

// push appends t, evicting the oldest entry when full. It reports
// whether an entry was dropped and whether the push was accepted.
func (q *queue) push(t task) (dropped, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, false
	}
	if len(q.items) >= q.max {
		q.items[0] = task{}
		q.items = q.items[1:]
		dropped = true
	}
	q.items = append(q.items, t)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return dropped, true
}

// tryPop removes the front task without blocking.
func (q *queue) tryPop() (task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return task{}, false
	}
	t := q.items[0]
	q.items[0] = task{} // release the event for GC
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return t, true
}

// wait returns the wakeup channel for select loops.
func (q *queue) wait() <-chan struct{} {
	return q.signal
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes and discards everything still queued.
// In-flight events are dropped unprocessed, never half-applied.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.signal)
}
