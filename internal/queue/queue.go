// Package queue provides a mutex-guarded FIFO used for interpolation
// buffers and pending snapshot writes.
package queue

import "sync"

// Queue is safe for concurrent use. With a positive limit, pushing past the
// limit evicts the oldest items.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	evicted int
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewBounded creates a queue that keeps the newest limit items.
func NewBounded[T any](limit int) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, limit), limit: limit}
}

func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	if over := len(q.items) - q.limit; q.limit > 0 && over > 0 {
		q.evicted += over
		n := copy(q.items, q.items[over:])
		clear(q.items[n:])
		q.items = q.items[:n]
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) Empty() bool {
	return q.Len() == 0
}

// Evicted counts items dropped to stay within the limit.
func (q *Queue[T]) Evicted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Items copies the queue, oldest first.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]T(nil), q.items...)
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.items)
	q.items = q.items[:0]
}

// Drain hands over every queued item and leaves the queue empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]T, 0, cap(out))
	return out
}
