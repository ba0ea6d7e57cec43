package pipeline

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Push after Close
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO for one producer and one consumer. Close is the
// end-of-input marker: the consumer drains what was pushed before it, then
// Next reports ok=false.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	closed   bool
	signal   chan struct{}
	consumed int
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{signal: make(chan struct{}, 1)}
}

// Push appends v; it never blocks
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.notify()
	return nil
}

// Close marks the end of input. Closing twice is a no-op.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

// Next blocks until an item is available, the queue is closed and drained
// (ok=false), or ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v = q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.consumed++
			q.mu.Unlock()
			return v, true, nil
		}
		if q.closed {
			q.mu.Unlock()
			return v, false, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return v, false, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of items waiting
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Consumed returns how many items Next has handed out
func (q *Queue[T]) Consumed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumed
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
