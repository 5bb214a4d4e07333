package trip

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/campusride/livelocation/pkg/streaming"
)

// Trip is the lifecycle state of one bus run.
type Trip struct {
	BusID     string
	TripID    string
	StartedAt time.Time
	EndedAt   time.Time
}

// Active reports whether the trip has started and not ended.
func (t Trip) Active() bool {
	return !t.StartedAt.IsZero() && t.EndedAt.IsZero()
}

// Context holds the current trip per bus.
type Context struct {
	mu    sync.RWMutex
	trips map[string]Trip
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{trips: make(map[string]Trip)}
}

// Get returns the latest known trip for busID.
func (tc *Context) Get(busID string) (Trip, bool) {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	t, ok := tc.trips[busID]
	return t, ok
}

// Active reports whether busID is currently on a trip.
func (tc *Context) Active(busID string) bool {
	t, ok := tc.Get(busID)
	return ok && t.Active()
}

// Start records a trip start, replacing any previous trip for the bus.
func (tc *Context) Start(busID, tripID string, at time.Time) Trip {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	t := Trip{BusID: busID, TripID: tripID, StartedAt: at}
	tc.trips[busID] = t
	return t
}

// End closes the bus's trip. An end for a different trip id, or with no trip
// known, is recorded as a trip that ended without a seen start.
func (tc *Context) End(busID, tripID string, at time.Time) Trip {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	t, ok := tc.trips[busID]
	if !ok || (tripID != "" && t.TripID != tripID) {
		t = Trip{BusID: busID, TripID: tripID}
	}
	t.EndedAt = at
	tc.trips[busID] = t
	return t
}

// Apply records a trip_started or trip_ended event. Events without a
// timestamp use received. It reports false for any other message type.
func (tc *Context) Apply(msgType string, ev streaming.TripEvent, received time.Time) (Trip, bool) {
	at := received
	if ev.Timestamp > 0 {
		at = time.UnixMilli(ev.Timestamp)
	}
	switch msgType {
	case streaming.TypeTripStarted:
		return tc.Start(ev.BusID, ev.TripID, at), true
	case streaming.TypeTripEnded:
		return tc.End(ev.BusID, ev.TripID, at), true
	}
	return Trip{}, false
}

// Observer returns a relay observer that applies every trip frame to tc.
func Observer(tc *Context) func(channelName string, data []byte) {
	return func(_ string, data []byte) {
		env := streaming.DecodeFrame(data)
		if env.Type != streaming.TypeTripStarted && env.Type != streaming.TypeTripEnded {
			return
		}
		var ev streaming.TripEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil || ev.BusID == "" {
			return
		}
		tc.Apply(env.Type, ev, time.Now())
	}
}
