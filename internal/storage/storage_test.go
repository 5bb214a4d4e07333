package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusride/livelocation/internal/storage"
	"github.com/campusride/livelocation/internal/storage/memory"
	"github.com/campusride/livelocation/pkg/core"
	"github.com/campusride/livelocation/pkg/streaming"
)

func TestObserver_RecordsLocationFrames(t *testing.T) {
	ctx := context.Background()
	b := memory.New(nil)
	observe := storage.Observer(b, nil)

	frame, err := streaming.EncodeLocation("42", core.PositionSample{
		Latitude:  12.971604,
		Longitude: 77.594563,
		Timestamp: 1_700_000_000_000,
	})
	require.NoError(t, err)
	observe("bus:42", frame)

	// bare full-form payload
	observe("bus:7", []byte(`{"busId":"7","lat":1.5,"lng":2.5,"timestamp":1700000000000}`))

	// trip events and garbage are ignored
	trip, err := streaming.MarshalEnvelope(streaming.TypeTripStarted, streaming.TripEvent{BusID: "42", TripID: "t1"})
	require.NoError(t, err)
	observe("bus:42", trip)
	observe("bus:42", []byte(`{"type":"location","payload":{"nope":true}}`))

	got, ok, err := b.Latest(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 12.971604, got.Lat)
	assert.Equal(t, int64(1_700_000_000_000), got.Timestamp)

	all, err := b.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "42", all[0].BusID)
	assert.Equal(t, "7", all[1].BusID)
}

func TestMemoryBackend_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	b := memory.New(nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.Record(streaming.LocationMessage{BusID: "1", Lat: 2, Timestamp: 2000}))
	require.NoError(t, b.Record(streaming.LocationMessage{BusID: "1", Lat: 1, Timestamp: 1000}))

	got, ok, err := b.Latest(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Lat)

	_, ok, err = b.Latest(ctx, "2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewBackend(t *testing.T) {
	b, err := storage.NewBackend("memory", storage.Options{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)

	_, err = storage.NewBackend("gorm", storage.Options{})
	assert.Error(t, err)

	_, err = storage.NewBackend("tape", storage.Options{})
	assert.Error(t, err)
}
