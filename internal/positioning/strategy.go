// Package positioning implements the device-level acquisition strategies.
// The set of strategies is closed: Browser and Native.
package positioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campusride/livelocation/internal/geo"
	"github.com/campusride/livelocation/internal/validate"
	"github.com/campusride/livelocation/pkg/core"
)

// Kind names a strategy variant.
type Kind string

const (
	KindBrowser Kind = "browser"
	KindNative  Kind = "native"
)

// WatchHandle identifies an active watch. Foreground and background watches
// use distinct namespaces ("fg-N", "bg-N").
type WatchHandle string

// DeliverFunc receives a filtered sample and reports whether the consumer
// kept it. Only kept samples become the reference for the distance filter.
type DeliverFunc func(core.PositionSample) bool

// Strategy is the capability interface shared by both variants.
type Strategy interface {
	Kind() Kind
	IsAvailable() bool
	RequestPermission(ctx context.Context, background bool) bool
	CheckPermission(ctx context.Context) core.PermissionState
	GetOnce(ctx context.Context, opts core.TrackingOptions) (core.PositionSample, error)
	StartWatch(opts core.TrackingOptions, onSample DeliverFunc, onError ErrorFunc) (WatchHandle, error)
	StopWatch(h WatchHandle)

	sealed()
}

// watch is the per-handle delivery state.
type watch struct {
	mu            sync.Mutex
	handle        WatchHandle
	providerID    ProviderWatchID
	background    bool
	opts          core.TrackingOptions
	onSample      DeliverFunc
	onError       ErrorFunc
	lastDelivered *core.PositionSample
	stopped       bool
}

// common holds what both variants share: the provider, the plausibility
// ceiling and the registry of live watches.
type common struct {
	provider Provider
	ceiling  validate.Ceiling
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	watches map[WatchHandle]*watch
	nextID  uint64
}

func newCommon(p Provider, ceiling validate.Ceiling, logger *slog.Logger) common {
	if logger == nil {
		logger = slog.Default()
	}
	if p == nil {
		p = Unavailable{}
	}
	return common{
		provider: p,
		ceiling:  ceiling,
		logger:   logger,
		now:      time.Now,
		watches:  make(map[WatchHandle]*watch),
	}
}

func (c *common) sealed() {}

func (c *common) IsAvailable() bool {
	return c.provider.Available()
}

func (c *common) CheckPermission(ctx context.Context) core.PermissionState {
	state, err := c.provider.Permission(ctx)
	if err != nil {
		c.logger.Debug("Permission check failed", "error", err)
		return core.PermissionPrompt
	}
	return state
}

func (c *common) requestForeground(ctx context.Context) bool {
	state, err := c.provider.RequestPermission(ctx)
	if err != nil {
		c.logger.Warn("Location permission request failed", "error", err)
		return false
	}
	return state == core.PermissionGranted
}

// GetOnce fetches a single sample bounded by opts.Timeout.
func (c *common) GetOnce(ctx context.Context, opts core.TrackingOptions) (core.PositionSample, error) {
	if !c.provider.Available() {
		return core.PositionSample{}, core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	s, err := c.provider.Current(ctx, opts)
	if err != nil {
		return core.PositionSample{}, toPositionError(err)
	}
	return s, nil
}

func (c *common) register(prefix string, w *watch) WatchHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	w.handle = WatchHandle(fmt.Sprintf("%s-%d", prefix, c.nextID))
	c.watches[w.handle] = w
	return w.handle
}

func (c *common) remove(h WatchHandle) *watch {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.watches[h]
	if !ok {
		return nil
	}
	delete(c.watches, h)
	return w
}

// deliver runs the plausibility and distance filters and hands the sample on.
func (c *common) deliver(w *watch, s core.PositionSample) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if err := validate.Plausible(s, c.ceiling, c.now()); err != nil {
		w.mu.Unlock()
		c.logger.Debug("Dropping implausible sample", "watch", w.handle, "error", err)
		return
	}
	if w.lastDelivered != nil && w.opts.DistanceFilter > 0 {
		moved := geo.Distance(
			geo.Point{Lat: w.lastDelivered.Latitude, Lng: w.lastDelivered.Longitude},
			geo.Point{Lat: s.Latitude, Lng: s.Longitude},
		)
		if moved < w.opts.DistanceFilter {
			w.mu.Unlock()
			return
		}
	}
	cb := w.onSample
	w.mu.Unlock()

	if cb != nil && !cb(s) {
		return
	}
	w.mu.Lock()
	last := s
	w.lastDelivered = &last
	w.mu.Unlock()
}

func (c *common) fail(w *watch, err error) {
	w.mu.Lock()
	stopped := w.stopped
	cb := w.onError
	w.mu.Unlock()
	if stopped || cb == nil {
		return
	}
	cb(toPositionError(err))
}

func (w *watch) stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
}

// toPositionError normalizes provider errors into *core.PositionError.
func toPositionError(err error) error {
	var pe *core.PositionError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewPositionError(core.ErrorTimeout, err.Error())
	}
	return core.NewPositionError(core.ErrorPositionUnavailable, err.Error())
}
