package positioning

import (
	"context"

	"github.com/campusride/livelocation/pkg/core"
)

// ProviderWatchID identifies a watch registered with a Provider.
type ProviderWatchID string

// SampleFunc receives position samples.
type SampleFunc func(core.PositionSample)

// ErrorFunc receives acquisition errors. Errors are usually *core.PositionError.
type ErrorFunc func(error)

// Provider adapts the host's positioning subsystem (browser geolocation or the
// native location service). Implementations deliver samples asynchronously.
type Provider interface {
	Available() bool
	Permission(ctx context.Context) (core.PermissionState, error)
	RequestPermission(ctx context.Context) (core.PermissionState, error)
	Current(ctx context.Context, opts core.TrackingOptions) (core.PositionSample, error)
	Watch(opts core.TrackingOptions, onSample SampleFunc, onError ErrorFunc) (ProviderWatchID, error)
	Clear(id ProviderWatchID)
}

// BackgroundProvider is the native background-location path.
type BackgroundProvider interface {
	Supported() bool
	RequestPermission(ctx context.Context) (core.PermissionState, error)
	AddWatcher(opts core.TrackingOptions, onSample SampleFunc, onError ErrorFunc) (ProviderWatchID, error)
	RemoveWatcher(id ProviderWatchID)
}

// NoBackground is the stub used on platforms without background location.
type NoBackground struct{}

func (NoBackground) Supported() bool { return false }

func (NoBackground) RequestPermission(context.Context) (core.PermissionState, error) {
	return core.PermissionDenied, core.NewPositionError(core.ErrorUnsupported, "background location not available")
}

func (NoBackground) AddWatcher(core.TrackingOptions, SampleFunc, ErrorFunc) (ProviderWatchID, error) {
	return "", core.NewPositionError(core.ErrorUnsupported, "background location not available")
}

func (NoBackground) RemoveWatcher(ProviderWatchID) {}

// Unavailable is a Provider for hosts with no positioning support at all.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Permission(context.Context) (core.PermissionState, error) {
	return core.PermissionDenied, core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
}

func (Unavailable) RequestPermission(context.Context) (core.PermissionState, error) {
	return core.PermissionDenied, core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
}

func (Unavailable) Current(context.Context, core.TrackingOptions) (core.PositionSample, error) {
	return core.PositionSample{}, core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
}

func (Unavailable) Watch(core.TrackingOptions, SampleFunc, ErrorFunc) (ProviderWatchID, error) {
	return "", core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
}

func (Unavailable) Clear(ProviderWatchID) {}
