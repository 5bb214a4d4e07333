// Package location owns the active positioning strategy and threads
// validated samples to callers and sinks.
package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/campusride/livelocation/internal/device"
	"github.com/campusride/livelocation/internal/positioning"
	"github.com/campusride/livelocation/internal/validate"
	"github.com/campusride/livelocation/pkg/core"
)

// Update is an accepted sample with its confidence.
type Update struct {
	Sample     core.PositionSample
	Confidence core.Confidence
}

// UpdateFunc receives accepted samples.
type UpdateFunc func(Update)

// ErrorFunc receives acquisition errors, usually *core.PositionError.
type ErrorFunc func(error)

// Sink receives every accepted sample, e.g. the channel publisher or the
// history writer.
type Sink interface {
	HandleSample(s core.PositionSample, c core.Confidence)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(core.PositionSample, core.Confidence)

func (f SinkFunc) HandleSample(s core.PositionSample, c core.Confidence) { f(s, c) }

// Dependencies holds everything the orchestrator needs from the host.
type Dependencies struct {
	Env        device.Environment
	Provider   positioning.Provider
	Background positioning.BackgroundProvider
	// BackgroundEnabled gates the native background path.
	BackgroundEnabled   bool
	DesktopHighAccuracy bool
	Overrides           core.TrackingOverrides
	Sinks               []Sink
	Logger              *slog.Logger
	Now                 func() time.Time
}

type tracking struct {
	handle   positioning.WatchHandle
	opts     core.TrackingOptions
	onUpdate UpdateFunc
	onError  ErrorFunc
	last     *core.PositionSample
}

// Orchestrator owns at most one strategy and at most one active watch.
type Orchestrator struct {
	caps      device.Capabilities
	strategy  positioning.Strategy
	validator *validate.Validator
	defaults  core.TrackingOptions
	sinks     []Sink
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	active *tracking
}

// New probes the device and selects the strategy.
func New(deps Dependencies) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	caps := device.Probe(deps.Env)
	ceiling := validate.CeilingFor(caps.Class)

	var strategy positioning.Strategy
	if caps.Native {
		var bg positioning.BackgroundProvider = positioning.NoBackground{}
		if deps.BackgroundEnabled && caps.BackgroundCapable && deps.Background != nil {
			bg = deps.Background
		}
		strategy = positioning.NewNative(deps.Provider, bg, ceiling, logger)
	} else {
		strategy = positioning.NewBrowser(deps.Provider, ceiling, logger)
	}

	logger.Info("Location orchestrator ready",
		"class", caps.Class.String(),
		"platform", caps.Platform.String(),
		"strategy", string(strategy.Kind()))

	return &Orchestrator{
		caps:      caps,
		strategy:  strategy,
		validator: validate.New(ceiling, logger),
		defaults:  DefaultOptions(caps.Class, deps.DesktopHighAccuracy).Apply(deps.Overrides),
		sinks:     deps.Sinks,
		logger:    logger,
		now:       now,
	}
}

// Capabilities returns the probe result taken at construction.
func (o *Orchestrator) Capabilities() device.Capabilities { return o.caps }

// Strategy returns the selected strategy.
func (o *Orchestrator) Strategy() positioning.Strategy { return o.strategy }

// DefaultOptions returns the device-class defaults with configured overrides.
func (o *Orchestrator) DefaultOptions() core.TrackingOptions { return o.defaults }

func (o *Orchestrator) RequestPermission(ctx context.Context, background bool) bool {
	return o.strategy.RequestPermission(ctx, background)
}

func (o *Orchestrator) CheckPermission(ctx context.Context) core.PermissionState {
	return o.strategy.CheckPermission(ctx)
}

// IsTracking reports whether a watch is active.
func (o *Orchestrator) IsTracking() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// StartTracking starts the watch. If one is already active its handle is
// returned and nothing else happens.
func (o *Orchestrator) StartTracking(ov core.TrackingOverrides, onUpdate UpdateFunc, onError ErrorFunc) (positioning.WatchHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return o.active.handle, nil
	}

	t := &tracking{opts: o.defaults.Apply(ov), onUpdate: onUpdate, onError: onError}
	h, err := o.strategy.StartWatch(t.opts,
		func(s core.PositionSample) bool { return o.handleSample(t, s) },
		func(err error) { o.handleError(t, err) },
	)
	if err != nil {
		return "", err
	}
	t.handle = h
	o.active = t

	o.logger.Info("Tracking started", "handle", h,
		"interval", t.opts.Interval, "distanceFilter", t.opts.DistanceFilter, "background", t.opts.Background)
	return h, nil
}

// StopTracking releases the watch identified by h. Unknown handles are ignored.
func (o *Orchestrator) StopTracking(h positioning.WatchHandle) {
	o.mu.Lock()
	if o.active == nil || o.active.handle != h {
		o.mu.Unlock()
		return
	}
	o.active = nil
	o.mu.Unlock()

	o.strategy.StopWatch(h)
	o.logger.Info("Tracking stopped", "handle", h)
}

// Stop releases whatever watch is active.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	t := o.active
	o.mu.Unlock()
	if t != nil {
		o.StopTracking(t.handle)
	}
}

// GetCurrentPosition fetches and validates a single sample. No watch is needed.
func (o *Orchestrator) GetCurrentPosition(ctx context.Context, ov core.TrackingOverrides) (Update, error) {
	opts := o.defaults.Apply(ov)
	s, err := o.strategy.GetOnce(ctx, opts)
	if err != nil {
		return Update{}, err
	}
	c, err := o.validator.Accept(nil, s, opts.MaxAge, o.now())
	if err != nil {
		return Update{}, err
	}
	return Update{Sample: s, Confidence: c}, nil
}

// handleSample reports whether s passed validation.
func (o *Orchestrator) handleSample(t *tracking, s core.PositionSample) bool {
	o.mu.Lock()
	if o.active != t {
		o.mu.Unlock()
		return false
	}
	c, err := o.validator.Accept(t.last, s, t.opts.MaxAge, o.now())
	if err != nil {
		o.mu.Unlock()
		return false
	}
	accepted := s
	t.last = &accepted
	cb := t.onUpdate
	o.mu.Unlock()

	u := Update{Sample: s, Confidence: c}
	if cb != nil {
		cb(u)
	}
	for _, sink := range o.sinks {
		sink.HandleSample(s, c)
	}
	return true
}

func (o *Orchestrator) handleError(t *tracking, err error) {
	o.mu.Lock()
	if o.active != t {
		o.mu.Unlock()
		return
	}
	var pe *core.PositionError
	terminal := errors.As(err, &pe) && pe.Terminal()
	if terminal {
		o.active = nil
	}
	cb := t.onError
	o.mu.Unlock()

	if terminal {
		o.strategy.StopWatch(t.handle)
		o.logger.Warn("Tracking stopped on terminal error", "handle", t.handle, "error", err)
	} else {
		o.logger.Debug("Recoverable location error", "handle", t.handle, "error", err)
	}
	if cb != nil {
		cb(err)
	}
}
