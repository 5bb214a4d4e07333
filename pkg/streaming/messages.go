package streaming

import (
	"encoding/json"
)

// Message type constants matching the live channel protocol.
const (
	TypeLocation    = "location"
	TypeTripStarted = "trip_started"
	TypeTripEnded   = "trip_ended"
)

// Envelope wraps all messages sent over a live channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CompactMessage is the on-wire location form: short keys, 6 decimal places
// for coordinates, 1 decimal for speed, integer heading, epoch-second time.
type CompactMessage struct {
	B  string   `json:"b"`
	La float64  `json:"la"`
	Ln float64  `json:"ln"`
	S  *float64 `json:"s,omitempty"`
	H  *int     `json:"h,omitempty"`
	T  int64    `json:"t"`
}

// LocationMessage is the full, backward compatible location form.
type LocationMessage struct {
	BusID     string   `json:"busId"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	Timestamp int64    `json:"timestamp"` // epoch milliseconds
}

// TripEvent carries trip lifecycle transitions for a bus.
type TripEvent struct {
	BusID     string `json:"busId"`
	TripID    string `json:"tripId"`
	Timestamp int64  `json:"timestamp"`
}

// MarshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func MarshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// DecodeFrame parses a channel frame. Frames without an envelope are taken
// as bare location payloads.
func DecodeFrame(data []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return Envelope{Type: TypeLocation, Payload: data}
	}
	return env
}
