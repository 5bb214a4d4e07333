// Package channel holds the outbound frame queues that sit between
// publishers and a connection's single writer goroutine.
package channel

import (
	"sync"
	"sync/atomic"
)

// Outbox is a bounded queue that never blocks the publisher. When full, the
// oldest queued item is evicted so the newest position always goes out.
type Outbox[T any] struct {
	ch      chan T
	evicted atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an outbox holding up to size items (at least one).
func NewOutbox[T any](size int) *Outbox[T] {
	if size < 1 {
		size = 1
	}
	return &Outbox[T]{ch: make(chan T, size)}
}

// Push queues v. It returns false once the outbox is closed.
func (o *Outbox[T]) Push(v T) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	for {
		select {
		case o.ch <- v:
			return true
		default:
		}
		// full: the writer may drain concurrently, so retry after evicting
		select {
		case <-o.ch:
			o.evicted.Add(1)
		default:
		}
	}
}

// C delivers queued items in order. It is closed by Close.
func (o *Outbox[T]) C() <-chan T {
	return o.ch
}

// Len returns the number of queued items.
func (o *Outbox[T]) Len() int {
	return len(o.ch)
}

// Evicted returns how many items were dropped to make room.
func (o *Outbox[T]) Evicted() int64 {
	return o.evicted.Load()
}

// Close stops accepting items. Already queued items can still be received.
func (o *Outbox[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}
