package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a FIFO shared by one producer and one consumer. Push never
// blocks: an unbounded queue (max <= 0) grows, a bounded one evicts its
// oldest item to make room.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	max     int
	closed  bool
	dropped uint64
	notify  chan struct{}
}

func New[T any](max int) *Queue[T] {
	return &Queue[T]{max: max, notify: make(chan struct{}, 1)}
}

// Push appends item. It reports whether an older item was evicted.
func (q *Queue[T]) Push(item T) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	evicted := false
	if q.max > 0 && len(q.items) >= q.max {
		var zero T
		q.items[0] = zero
		q.items = q.items[1:]
		q.dropped++
		evicted = true
	}
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.signal()
	return evicted, nil
}

// Pop blocks until an item is available. It returns false once the queue
// is closed and drained, or when ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			remaining := len(q.items)
			q.mu.Unlock()
			if remaining > 0 {
				q.signal()
			}
			return item, true
		}
		if q.closed {
			q.mu.Unlock()
			return zero, false
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return zero, false
		case <-q.notify:
		}
	}
}

// Close stops accepting items. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped counts items evicted by the bound.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
