// Package storage keeps the latest accepted location per bus so a new
// subscriber can be answered immediately on connect.
package storage

import (
	"context"
	"log/slog"

	"github.com/campusride/livelocation/pkg/streaming"
)

// Backend is the interface all snapshot stores must satisfy.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Record stores loc unless a newer location for the bus is held.
	Record(loc streaming.LocationMessage) error

	// Latest returns the newest location for busID, false if none.
	Latest(ctx context.Context, busID string) (streaming.LocationMessage, bool, error)

	// All returns the newest location of every bus ordered by bus id.
	All(ctx context.Context) ([]streaming.LocationMessage, error)
}

// Observer returns a relay observer that records every location frame.
func Observer(b Backend, logger *slog.Logger) func(channelName string, data []byte) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(channelName string, data []byte) {
		env := streaming.DecodeFrame(data)
		if env.Type != streaming.TypeLocation {
			return
		}
		loc, err := streaming.DecodeLocation(env.Payload)
		if err != nil {
			logger.Debug("Ignoring undecodable frame", "channel", channelName, "error", err)
			return
		}
		if err := b.Record(loc); err != nil {
			logger.Error("Failed to record location", "busId", loc.BusID, "error", err)
		}
	}
}
