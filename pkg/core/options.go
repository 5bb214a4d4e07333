// pkg/core/options.go
package core

import "time"

// TrackingOptions tunes acquisition. Device class supplies defaults; callers
// override individual fields with TrackingOverrides.
type TrackingOptions struct {
	HighAccuracy    bool
	Timeout         time.Duration
	MaxAge          time.Duration
	Interval        time.Duration
	FastestInterval time.Duration
	DistanceFilter  float64 // meters
	Background      bool
}

// TrackingOverrides carries caller overrides; nil fields keep the default.
type TrackingOverrides struct {
	HighAccuracy    *bool
	Timeout         *time.Duration
	MaxAge          *time.Duration
	Interval        *time.Duration
	FastestInterval *time.Duration
	DistanceFilter  *float64
	Background      *bool
}

// Apply returns o with every non-nil override field replaced.
func (o TrackingOptions) Apply(ov TrackingOverrides) TrackingOptions {
	if ov.HighAccuracy != nil {
		o.HighAccuracy = *ov.HighAccuracy
	}
	if ov.Timeout != nil {
		o.Timeout = *ov.Timeout
	}
	if ov.MaxAge != nil {
		o.MaxAge = *ov.MaxAge
	}
	if ov.Interval != nil {
		o.Interval = *ov.Interval
	}
	if ov.FastestInterval != nil {
		o.FastestInterval = *ov.FastestInterval
	}
	if ov.DistanceFilter != nil {
		o.DistanceFilter = *ov.DistanceFilter
	}
	if ov.Background != nil {
		o.Background = *ov.Background
	}
	return o
}
