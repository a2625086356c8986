// Package queue provides an unbounded FIFO with a blocking, cancellable Pop.
package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once the queue is closed and drained of waiters
var ErrClosed = errors.New("queue is closed")

// FIFO is an unbounded first-in first-out queue safe for concurrent use.
// Push never blocks; Pop blocks until an item is available, the context is
// cancelled or the queue is closed.
type FIFO[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	notify chan struct{}
	closed bool
}

// New creates an empty FIFO
func New[T any]() *FIFO[T] {
	return &FIFO[T]{notify: make(chan struct{}, 1)}
}

// Push appends an item. Pushing to a closed queue drops the item and returns false.
func (q *FIFO[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.signal()
	q.mu.Unlock()
	return true
}

// Pop removes and returns the oldest item.
func (q *FIFO[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		if q.head < len(q.items) {
			item := q.items[q.head]
			q.items[q.head] = zero
			q.head++
			if q.head == len(q.items) {
				q.items = q.items[:0]
				q.head = 0
			} else if q.head > 64 && q.head*2 >= len(q.items) {
				n := copy(q.items, q.items[q.head:])
				clear(q.items[n:])
				q.items = q.items[:n]
				q.head = 0
			}
			if q.head < len(q.items) {
				// wake another waiter, if any
				q.signal()
			}
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.notify:
		}
	}
}

// signal must be called with mu held so it never races Close.
func (q *FIFO[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of queued items.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close discards every queued item and wakes blocked consumers. Idempotent.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.head = 0
	q.mu.Unlock()
	close(q.notify)
}
