package subscription

import "errors"

var (
	// ErrChannelDisconnected is returned when publishing without a live channel.
	// Drops wrap it before reconnecting.
	ErrChannelDisconnected = errors.New("channel disconnected")
	// ErrChannelExhausted is reported once reconnect attempts run out. Only
	// Restart leaves this state.
	ErrChannelExhausted = errors.New("channel reconnect attempts exhausted")
)

// State is the connection state of a Manager.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Status is the consumer-facing view of State.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Status maps the state onto the three consumer statuses. Connecting is
// reported as disconnected.
func (s State) Status() Status {
	switch s {
	case StateConnected:
		return StatusConnected
	case StateErrored:
		return StatusError
	default:
		return StatusDisconnected
	}
}
