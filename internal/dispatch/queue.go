// File: internal/dispatch/queue.go
package dispatch

import "sync"

// eventQueue is an unbounded FIFO of deferred event deliveries with a
// single consumer goroutine. The dispatch goroutine pushes; the event
// goroutine pops and runs. This keeps user event handlers off the receive
// loop while preserving arrival order.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues one delivery. Pushes after close are dropped.
func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
}

// run consumes deliveries until close. Runs on its own goroutine for the
// lifetime of the connection.
func (q *eventQueue) run() {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
	}
}

// close stops the consumer. Deliveries not yet run are dropped; by the
// time the connection closes their objects are disposed anyway.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
