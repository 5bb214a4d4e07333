//go:build !debug

package channel

// New creates the outbound queue for a transport connection.
func New[T any](size int) *Outbox[T] {
	return NewOutbox[T](size)
}
