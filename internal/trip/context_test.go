package trip

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusride/livelocation/pkg/streaming"
)

func TestContext_StartEnd(t *testing.T) {
	ctx := NewContext()
	at := time.Date(2026, 4, 1, 7, 30, 0, 0, time.UTC)

	assert.False(t, ctx.Active("bus-1"))

	ctx.Start("bus-1", "trip-a", at)
	assert.True(t, ctx.Active("bus-1"))

	ended := ctx.End("bus-1", "trip-a", at.Add(time.Hour))
	assert.Equal(t, at, ended.StartedAt)
	assert.False(t, ctx.Active("bus-1"))
}

func TestContext_EndUnknownTrip(t *testing.T) {
	ctx := NewContext()
	at := time.Date(2026, 4, 1, 7, 30, 0, 0, time.UTC)
	ctx.Start("bus-1", "trip-a", at)

	ended := ctx.End("bus-1", "trip-b", at.Add(time.Minute))
	assert.Equal(t, "trip-b", ended.TripID)
	assert.True(t, ended.StartedAt.IsZero())

	got, ok := ctx.Get("bus-1")
	require.True(t, ok)
	assert.False(t, got.Active())
}

func TestContext_ThreadSafe(t *testing.T) {
	ctx := NewContext()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx.Start("bus-1", "trip", time.Now())
		}()
		go func() {
			defer wg.Done()
			_ = ctx.Active("bus-1")
		}()
	}
	wg.Wait()
	assert.True(t, ctx.Active("bus-1"))
}

func TestContext_Apply(t *testing.T) {
	tc := NewContext()
	received := time.Date(2026, 4, 1, 7, 30, 0, 0, time.UTC)

	tr, ok := tc.Apply(streaming.TypeTripStarted, streaming.TripEvent{BusID: "b", TripID: "t1"}, received)
	require.True(t, ok)
	assert.Equal(t, received, tr.StartedAt)
	assert.True(t, tc.Active("b"))

	tr, ok = tc.Apply(streaming.TypeTripEnded, streaming.TripEvent{BusID: "b", TripID: "t1", Timestamp: 1_775_030_400_000}, received)
	require.True(t, ok)
	assert.Equal(t, int64(1_775_030_400_000), tr.EndedAt.UnixMilli())
	assert.False(t, tc.Active("b"))

	_, ok = tc.Apply(streaming.TypeLocation, streaming.TripEvent{BusID: "b"}, received)
	assert.False(t, ok)
}

func TestObserver(t *testing.T) {
	tc := NewContext()
	observe := Observer(tc)

	frame, err := streaming.MarshalEnvelope(streaming.TypeTripStarted, streaming.TripEvent{BusID: "9", TripID: "t9", Timestamp: 1000})
	require.NoError(t, err)
	observe("bus:9", frame)
	observe("bus:9", []byte(`{"b":"9","la":1,"ln":2,"t":3}`))
	observe("bus:9", []byte(`{"type":"trip_ended","payload":"broken"}`))

	tr, ok := tc.Get("9")
	require.True(t, ok)
	assert.Equal(t, "t9", tr.TripID)
	assert.True(t, tr.Active())
}
