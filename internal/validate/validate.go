// Package validate scores and filters raw position samples before they are
// published or interpolated.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/campusride/livelocation/internal/geo"
	"github.com/campusride/livelocation/pkg/core"
)

const instrumentationName = "github.com/campusride/livelocation/internal/validate"

// Speed thresholds in km/h.
const (
	MediumSpeedKmh = 80.0
	MaxSpeedKmh    = 120.0
)

// ErrValidationRejected is matched by every RejectedError.
var ErrValidationRejected = errors.New("sample rejected")

// Reason names why a sample was rejected.
type Reason string

const (
	ReasonAccuracy    Reason = "accuracy"
	ReasonStale       Reason = "stale"
	ReasonCoordinates Reason = "coordinates"
	ReasonSpeed       Reason = "implausible_speed"
)

// RejectedError is returned for samples that must not reach interpolation or publication.
type RejectedError struct {
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("sample rejected (%s): %s", e.Reason, e.Detail)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrValidationRejected
}

// Ceiling is the device-plausibility limit for a device class.
type Ceiling struct {
	MaxAccuracy float64       // meters
	MaxAge      time.Duration // fixed sample age limit
}

// CeilingFor returns the plausibility ceiling for a device class:
// 50 m / 30 s for handhelds, 100 m / 60 s for desktop browsers.
func CeilingFor(class core.DeviceClass) Ceiling {
	if class.Handheld() {
		return Ceiling{MaxAccuracy: 50, MaxAge: 30 * time.Second}
	}
	return Ceiling{MaxAccuracy: 100, MaxAge: 60 * time.Second}
}

// Plausible applies the ceiling checks shared by strategies and the validator.
func Plausible(s core.PositionSample, c Ceiling, now time.Time) error {
	if !s.ValidCoordinates() {
		return &RejectedError{Reason: ReasonCoordinates, Detail: fmt.Sprintf("lat=%v lng=%v", s.Latitude, s.Longitude)}
	}
	if c.MaxAccuracy > 0 && s.Accuracy > c.MaxAccuracy {
		return &RejectedError{Reason: ReasonAccuracy, Detail: fmt.Sprintf("%.1fm exceeds %.0fm", s.Accuracy, c.MaxAccuracy)}
	}
	if c.MaxAge > 0 && s.Age(now) > c.MaxAge {
		return &RejectedError{Reason: ReasonStale, Detail: fmt.Sprintf("age %s exceeds %s", s.Age(now), c.MaxAge)}
	}
	return nil
}

// Check rejects samples outright: out-of-range coordinates, accuracy above
// the ceiling, or age above maxAge (falls back to the ceiling age when zero).
func Check(s core.PositionSample, c Ceiling, maxAge time.Duration, now time.Time) error {
	if maxAge > 0 {
		c.MaxAge = maxAge
	}
	return Plausible(s, c, now)
}

// ImpliedSpeedKmh returns the speed implied by moving from prev to cand.
// ok is false when no time elapsed.
func ImpliedSpeedKmh(prev, cand core.PositionSample) (kmh float64, ok bool) {
	elapsed := float64(cand.Timestamp-prev.Timestamp) / 1000
	if elapsed <= 0 {
		return 0, false
	}
	d := geo.Distance(
		geo.Point{Lat: prev.Latitude, Lng: prev.Longitude},
		geo.Point{Lat: cand.Latitude, Lng: cand.Longitude},
	)
	return d / elapsed * 3.6, true
}

// Score classifies cand against the previous accepted sample.
func Score(prev *core.PositionSample, cand core.PositionSample) core.Confidence {
	if prev == nil {
		return core.ConfidenceHigh
	}
	kmh, ok := ImpliedSpeedKmh(*prev, cand)
	if !ok {
		// no elapsed time: any movement is a jump
		if prev.Latitude == cand.Latitude && prev.Longitude == cand.Longitude {
			return core.ConfidenceHigh
		}
		return core.ConfidenceLow
	}
	switch {
	case kmh > MaxSpeedKmh:
		return core.ConfidenceLow
	case kmh > MediumSpeedKmh:
		return core.ConfidenceMedium
	default:
		return core.ConfidenceHigh
	}
}

// Validator combines the outright checks with confidence scoring.
type Validator struct {
	ceiling  Ceiling
	logger   *slog.Logger
	rejected metric.Int64Counter
	accepted metric.Int64Counter
}

// New creates a validator for the given ceiling.
func New(ceiling Ceiling, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	m := otel.Meter(instrumentationName)
	rejected, _ := m.Int64Counter("validator.samples.rejected",
		metric.WithDescription("Samples dropped before interpolation or publication"))
	accepted, _ := m.Int64Counter("validator.samples.accepted",
		metric.WithDescription("Samples accepted, by confidence"))
	return &Validator{ceiling: ceiling, logger: logger, rejected: rejected, accepted: accepted}
}

// Ceiling returns the validator's device ceiling.
func (v *Validator) Ceiling() Ceiling {
	return v.ceiling
}

// Accept validates cand. Low-confidence samples are rejected with ReasonSpeed;
// the returned confidence is still set for logging.
func (v *Validator) Accept(prev *core.PositionSample, cand core.PositionSample, maxAge time.Duration, now time.Time) (core.Confidence, error) {
	if err := Check(cand, v.ceiling, maxAge, now); err != nil {
		v.reject(err)
		return core.ConfidenceLow, err
	}
	c := Score(prev, cand)
	if c == core.ConfidenceLow {
		kmh, _ := ImpliedSpeedKmh(*prev, cand)
		err := &RejectedError{Reason: ReasonSpeed, Detail: fmt.Sprintf("implied %.1f km/h", kmh)}
		v.reject(err)
		return c, err
	}
	if v.accepted != nil {
		v.accepted.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("confidence", c.String())))
	}
	return c, nil
}

func (v *Validator) reject(err error) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		v.logger.Debug("Sample rejected", "reason", rej.Reason, "detail", rej.Detail)
		if v.rejected != nil {
			v.rejected.Add(context.Background(), 1,
				metric.WithAttributes(attribute.String("reason", string(rej.Reason))))
		}
	}
}
