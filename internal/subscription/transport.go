package subscription

import (
	"context"
	"fmt"
	"regexp"
)

// MessageFunc receives raw inbound frames.
type MessageFunc func(data []byte)

// DropFunc is called at most once when an established connection is lost.
type DropFunc func(err error)

// Transport opens the channel for one tracked entity.
type Transport interface {
	Connect(ctx context.Context, entityID string, onMessage MessageFunc, onDrop DropFunc) (Conn, error)
}

// Conn is an established channel.
type Conn interface {
	Publish(data []byte) error
	Close() error
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// ChannelName is the shared channel key for an entity, e.g. "bus:42".
func ChannelName(entityID string) string {
	return fmt.Sprintf("bus:%s", entityID)
}

// TopicName is the broker-safe form of the channel key, e.g. "bus_42".
func TopicName(entityID string) string {
	return "bus_" + unsafeName.ReplaceAllString(entityID, "_")
}
