package validate

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusride/livelocation/internal/geo"
	"github.com/campusride/livelocation/pkg/core"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func sampleAt(p geo.Point, at time.Time, accuracy float64) core.PositionSample {
	return core.PositionSample{Latitude: p.Lat, Longitude: p.Lng, Accuracy: accuracy, Timestamp: at.UnixMilli()}
}

// movedAt returns a sample that moved from prev at speedKmh for elapsed.
func movedAt(prev core.PositionSample, speedKmh float64, elapsed time.Duration) core.PositionSample {
	dist := speedKmh / 3.6 * elapsed.Seconds()
	p := geo.Destination(geo.Point{Lat: prev.Latitude, Lng: prev.Longitude}, 90, dist)
	return sampleAt(p, prev.CapturedAt().Add(elapsed), prev.Accuracy)
}

func TestScore_NoPreviousIsHigh(t *testing.T) {
	s := sampleAt(geo.Point{Lat: 12.97, Lng: 77.59}, base, 5)
	assert.Equal(t, core.ConfidenceHigh, Score(nil, s))
}

func TestScore_SpeedBands(t *testing.T) {
	prev := sampleAt(geo.Point{Lat: 12.97, Lng: 77.59}, base, 5)
	tests := []struct {
		kmh  float64
		want core.Confidence
	}{
		{0, core.ConfidenceHigh},
		{30, core.ConfidenceHigh},
		{79, core.ConfidenceHigh},
		{81, core.ConfidenceMedium},
		{100, core.ConfidenceMedium},
		{119, core.ConfidenceMedium},
		{121, core.ConfidenceLow},
		{400, core.ConfidenceLow},
	}
	for _, tt := range tests {
		for _, elapsed := range []time.Duration{time.Second, 3 * time.Second, 10 * time.Second} {
			cand := movedAt(prev, tt.kmh, elapsed)
			assert.Equal(t, tt.want, Score(&prev, cand), "%v km/h over %s", tt.kmh, elapsed)
		}
	}
}

func TestScore_ZeroElapsed(t *testing.T) {
	prev := sampleAt(geo.Point{Lat: 1, Lng: 1}, base, 5)
	same := prev
	assert.Equal(t, core.ConfidenceHigh, Score(&prev, same))

	jumped := sampleAt(geo.Point{Lat: 1.001, Lng: 1}, base, 5)
	assert.Equal(t, core.ConfidenceLow, Score(&prev, jumped))
}

func TestImpliedSpeedKmh(t *testing.T) {
	prev := sampleAt(geo.Point{Lat: 0, Lng: 0}, base, 5)
	cand := movedAt(prev, 36, 10*time.Second)
	kmh, ok := ImpliedSpeedKmh(prev, cand)
	require.True(t, ok)
	assert.InDelta(t, 36, kmh, 0.01)
}

func TestCheck_AccuracyAboveCeilingAlwaysRejected(t *testing.T) {
	for _, class := range []core.DeviceClass{core.DeviceMobile, core.DeviceTablet, core.DeviceDesktop} {
		c := CeilingFor(class)
		s := sampleAt(geo.Point{Lat: 1, Lng: 1}, base, c.MaxAccuracy+0.1)
		err := Check(s, c, 0, base)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidationRejected))

		var rej *RejectedError
		require.True(t, errors.As(err, &rej))
		assert.Equal(t, ReasonAccuracy, rej.Reason)

		ok := sampleAt(geo.Point{Lat: 1, Lng: 1}, base, c.MaxAccuracy)
		assert.NoError(t, Check(ok, c, 0, base))
	}
}

func TestCheck_Stale(t *testing.T) {
	c := CeilingFor(core.DeviceMobile)
	s := sampleAt(geo.Point{Lat: 1, Lng: 1}, base, 5)

	assert.NoError(t, Check(s, c, 5*time.Second, base.Add(4*time.Second)))

	err := Check(s, c, 5*time.Second, base.Add(6*time.Second))
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonStale, rej.Reason)

	// zero maxAge falls back to the ceiling
	assert.NoError(t, Check(s, c, 0, base.Add(29*time.Second)))
	assert.Error(t, Check(s, c, 0, base.Add(31*time.Second)))
}

func TestCheck_Coordinates(t *testing.T) {
	c := CeilingFor(core.DeviceDesktop)
	for _, p := range []geo.Point{{Lat: 91, Lng: 0}, {Lat: -91, Lng: 0}, {Lat: 0, Lng: 181}, {Lat: math.NaN(), Lng: 0}} {
		err := Check(sampleAt(p, base, 5), c, 0, base)
		var rej *RejectedError
		require.True(t, errors.As(err, &rej), "point %v", p)
		assert.Equal(t, ReasonCoordinates, rej.Reason)
	}
}

func TestValidator_Accept(t *testing.T) {
	v := New(CeilingFor(core.DeviceMobile), nil)
	prev := sampleAt(geo.Point{Lat: 12.97, Lng: 77.59}, base, 5)

	conf, err := v.Accept(nil, prev, 5*time.Second, base)
	require.NoError(t, err)
	assert.Equal(t, core.ConfidenceHigh, conf)

	medium := movedAt(prev, 100, 2*time.Second)
	conf, err = v.Accept(&prev, medium, 5*time.Second, medium.CapturedAt())
	require.NoError(t, err)
	assert.Equal(t, core.ConfidenceMedium, conf)

	low := movedAt(prev, 200, 2*time.Second)
	conf, err = v.Accept(&prev, low, 5*time.Second, low.CapturedAt())
	require.Error(t, err)
	assert.Equal(t, core.ConfidenceLow, conf)
	var rej *RejectedError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonSpeed, rej.Reason)

	imprecise := sampleAt(geo.Point{Lat: 12.97, Lng: 77.59}, base, 80)
	_, err = v.Accept(nil, imprecise, 5*time.Second, base)
	assert.ErrorIs(t, err, ErrValidationRejected)
}
