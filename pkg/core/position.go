// pkg/core/position.go
package core

import (
	"math"
	"time"
)

// PositionSample is one timestamped position reading with accuracy metadata.
// Samples are values; nothing in this module mutates one after creation.
type PositionSample struct {
	Latitude         float64
	Longitude        float64
	Accuracy         float64  // horizontal accuracy, meters
	Altitude         *float64 // meters
	AltitudeAccuracy *float64 // meters
	Heading          *float64 // degrees clockwise from true north
	Speed            *float64 // meters per second
	Timestamp        int64    // capture time, epoch milliseconds
}

// CapturedAt returns the capture time of the sample.
func (s PositionSample) CapturedAt() time.Time {
	return time.UnixMilli(s.Timestamp)
}

// Age returns how old the sample is relative to now.
func (s PositionSample) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt())
}

// ValidCoordinates reports whether latitude and longitude are finite and in range.
func (s PositionSample) ValidCoordinates() bool {
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	return s.Latitude >= -90 && s.Latitude <= 90 &&
		s.Longitude >= -180 && s.Longitude <= 180
}

// Float64 returns a pointer to v. Used for the optional sample fields.
func Float64(v float64) *float64 {
	return &v
}

// Confidence classifies a sample's plausibility given recent history.
type Confidence int

const (
	ConfidenceHigh Confidence = iota
	ConfidenceMedium
	ConfidenceLow
)

// Weight scales the interpolation easing factor for samples of this confidence.
func (c Confidence) Weight() float64 {
	switch c {
	case ConfidenceMedium:
		return 0.7
	case ConfidenceLow:
		return 0.3
	default:
		return 1.0
	}
}

func (c Confidence) String() string {
	switch c {
	case ConfidenceHigh:
		return "high"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceLow:
		return "low"
	default:
		return "unknown"
	}
}

// PermissionState is the result of a permission check.
type PermissionState int

const (
	PermissionPrompt PermissionState = iota
	PermissionGranted
	PermissionDenied
)

func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "prompt"
	}
}
