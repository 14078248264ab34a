package supervisor

import (
	"slices"

	"github.com/roach88/intake/internal/query"
)

// waiter is a caller blocked until a worker of mode becomes available.
// The coordinator sends exactly one lease on reply.
type waiter struct {
	mode  query.Mode
	reply chan lease
}

// waitQueue is a FIFO of waiters.
//
// Only the pool coordinator touches a waitQueue, so it carries no lock.
type waitQueue struct {
	items []*waiter
}

func newWaitQueue() *waitQueue {
	return &waitQueue{items: make([]*waiter, 0, 16)}
}

// Push adds w to the back of the queue.
func (q *waitQueue) Push(w *waiter) {
	q.items = append(q.items, w)
}

// Pop removes and returns the front waiter, or nil if empty.
func (q *waitQueue) Pop() *waiter {
	if len(q.items) == 0 {
		return nil
	}

	w := q.items[0]

	// Nil out the slot so the backing array does not retain the waiter.
	q.items[0] = nil
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return w
}

// Remove deletes w from the queue. Returns false if w was not queued.
func (q *waitQueue) Remove(w *waiter) bool {
	i := slices.Index(q.items, w)
	if i < 0 {
		return false
	}
	q.items = slices.Delete(q.items, i, i+1)
	return true
}

// Len returns the number of queued waiters.
func (q *waitQueue) Len() int {
	return len(q.items)
}
