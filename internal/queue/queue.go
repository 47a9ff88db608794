package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO for many producers and a single consumer.
// Push never blocks; it only takes a short mutex to append.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	ready  chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v and reports whether it was accepted. It returns false
// once the queue is closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an item is available. After Close it keeps returning
// buffered items and then ErrClosed.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		if v, ok, closed := q.take(); ok {
			return v, nil
		} else if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop returns the head item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	v, ok, _ := q.take()
	return v, ok
}

func (q *Queue[T]) take() (v T, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head < len(q.items) {
		v = q.items[q.head]
		var zero T
		q.items[q.head] = zero
		q.head++
		// compact once the consumed prefix dominates the backing array
		if q.head > 64 && q.head*2 >= len(q.items) {
			n := copy(q.items, q.items[q.head:])
			q.items = q.items[:n]
			q.head = 0
		}
		return v, true, q.closed
	}
	q.items = q.items[:0]
	q.head = 0
	return v, false, q.closed
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close stops accepting pushes and wakes a blocked consumer.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}
