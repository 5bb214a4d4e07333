package positioning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusride/livelocation/pkg/core"
)

func TestReadReplay(t *testing.T) {
	in := `{"lat":12.97,"lng":77.59,"accuracy":5}

{"lat":12.98,"lng":77.60,"accuracy":6,"speed":4.2,"heading":90}
`
	records, err := ReadReplay(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 12.98, records[1].Lat)
	require.NotNil(t, records[1].Speed)
	assert.Equal(t, 4.2, *records[1].Speed)

	_, err = ReadReplay(strings.NewReader("{bad"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestReplay_CurrentAdvancesAndLoops(t *testing.T) {
	r := NewReplay([]ReplayRecord{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}, true)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	ctx := context.Background()
	var lats []float64
	for i := 0; i < 3; i++ {
		s, err := r.Current(ctx, core.TrackingOptions{})
		require.NoError(t, err)
		assert.Equal(t, fixed.UnixMilli(), s.Timestamp)
		lats = append(lats, s.Latitude)
	}
	assert.Equal(t, []float64{1, 2, 1}, lats)
}

func TestReplay_ExhaustedWithoutLoop(t *testing.T) {
	r := NewReplay([]ReplayRecord{{Lat: 1, Lng: 1}}, false)
	_, err := r.Current(context.Background(), core.TrackingOptions{})
	require.NoError(t, err)
	_, err = r.Current(context.Background(), core.TrackingOptions{})
	assert.ErrorIs(t, err, core.ErrPositionUnavailable)
}

func TestReplay_WatchDeliversAndClears(t *testing.T) {
	r := NewReplay([]ReplayRecord{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}, true)
	got := make(chan core.PositionSample, 16)

	id, err := r.Watch(core.TrackingOptions{FastestInterval: 5 * time.Millisecond},
		func(s core.PositionSample) {
			select {
			case got <- s:
			default:
			}
		},
		func(error) {},
	)
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, 1.0, s.Latitude)
	case <-time.After(2 * time.Second):
		t.Fatal("no sample delivered")
	}
	r.Clear(id)
	r.Clear(id)
}
