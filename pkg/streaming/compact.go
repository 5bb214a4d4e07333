package streaming

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/campusride/livelocation/pkg/core"
)

// ErrMalformedLocation is returned when a payload is neither compact nor full form.
var ErrMalformedLocation = errors.New("malformed location message")

// Compact times below this are legacy epoch seconds (anything under it in
// milliseconds would predate 1973).
const legacySecondsLimit = 100_000_000_000

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// Compress converts a full location message into its compact wire form.
func Compress(m LocationMessage) CompactMessage {
	c := CompactMessage{
		B:  m.BusID,
		La: round(m.Lat, 6),
		Ln: round(m.Lng, 6),
		T:  m.Timestamp,
	}
	if m.Speed != nil {
		s := round(*m.Speed, 1)
		c.S = &s
	}
	if m.Heading != nil {
		h := int(math.Round(*m.Heading))
		c.H = &h
	}
	return c
}

// Decompress expands a compact message. t is epoch milliseconds; older
// senders that wrote epoch seconds are still understood.
func Decompress(c CompactMessage) LocationMessage {
	ts := c.T
	if ts > 0 && ts < legacySecondsLimit {
		ts *= 1000
	}
	m := LocationMessage{
		BusID:     c.B,
		Lat:       c.La,
		Lng:       c.Ln,
		Speed:     c.S,
		Timestamp: ts,
	}
	if c.H != nil {
		h := float64(*c.H)
		m.Heading = &h
	}
	return m
}

// wireProbe accepts both forms so one unmarshal can tell them apart.
type wireProbe struct {
	B  *string  `json:"b"`
	La *float64 `json:"la"`
	Ln *float64 `json:"ln"`
	S  *float64 `json:"s"`
	H  *float64 `json:"h"`
	T  *int64   `json:"t"`

	BusID     *string  `json:"busId"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Speed     *float64 `json:"speed"`
	Heading   *float64 `json:"heading"`
	Accuracy  *float64 `json:"accuracy"`
	Timestamp *int64   `json:"timestamp"`
}

// DecodeLocation parses a location payload in either compact or full form.
// Full-form payloads pass through unchanged.
func DecodeLocation(raw []byte) (LocationMessage, error) {
	var p wireProbe
	if err := json.Unmarshal(raw, &p); err != nil {
		return LocationMessage{}, fmt.Errorf("%w: %v", ErrMalformedLocation, err)
	}

	switch {
	case p.B != nil && p.La != nil && p.Ln != nil:
		c := CompactMessage{B: *p.B, La: *p.La, Ln: *p.Ln, S: p.S}
		if p.T != nil {
			c.T = *p.T
		}
		if p.H != nil {
			h := int(math.Round(*p.H))
			c.H = &h
		}
		return Decompress(c), nil
	case p.BusID != nil && p.Lat != nil && p.Lng != nil:
		m := LocationMessage{
			BusID:   *p.BusID,
			Lat:     *p.Lat,
			Lng:     *p.Lng,
			Speed:   p.Speed,
			Heading: p.Heading,
		}
		if p.Accuracy != nil {
			m.Accuracy = *p.Accuracy
		}
		if p.Timestamp != nil {
			m.Timestamp = *p.Timestamp
		}
		return m, nil
	default:
		return LocationMessage{}, ErrMalformedLocation
	}
}

// EncodeLocation marshals a compact location envelope for the given sample.
func EncodeLocation(busID string, s core.PositionSample) ([]byte, error) {
	return MarshalEnvelope(TypeLocation, Compress(FromSample(busID, s)))
}

// FromSample builds a full location message from a sample.
func FromSample(busID string, s core.PositionSample) LocationMessage {
	return LocationMessage{
		BusID:     busID,
		Lat:       s.Latitude,
		Lng:       s.Longitude,
		Speed:     s.Speed,
		Heading:   s.Heading,
		Accuracy:  s.Accuracy,
		Timestamp: s.Timestamp,
	}
}

// Sample converts the message back into a PositionSample.
func (m LocationMessage) Sample() core.PositionSample {
	return core.PositionSample{
		Latitude:  m.Lat,
		Longitude: m.Lng,
		Accuracy:  m.Accuracy,
		Heading:   m.Heading,
		Speed:     m.Speed,
		Timestamp: m.Timestamp,
	}
}
