package positioning

import (
	"context"
	"errors"
	"log/slog"

	"github.com/campusride/livelocation/internal/validate"
	"github.com/campusride/livelocation/pkg/core"
)

// Native uses the platform location service with an optional background path.
type Native struct {
	common
	background BackgroundProvider
}

// NewNative creates the native strategy. A nil background provider selects NoBackground.
func NewNative(p Provider, bg BackgroundProvider, ceiling validate.Ceiling, logger *slog.Logger) *Native {
	if bg == nil {
		bg = NoBackground{}
	}
	return &Native{common: newCommon(p, ceiling, logger), background: bg}
}

func (n *Native) Kind() Kind { return KindNative }

// RequestPermission requests foreground access, then background access as a
// best-effort step that never fails the foreground grant.
func (n *Native) RequestPermission(ctx context.Context, background bool) bool {
	granted := n.requestForeground(ctx)
	if !granted || !background || !n.background.Supported() {
		return granted
	}
	state, err := n.background.RequestPermission(ctx)
	if err != nil || state != core.PermissionGranted {
		n.logger.Info("Background location not granted, continuing in foreground", "state", state, "error", err)
	}
	return granted
}

// StartWatch begins continuous delivery. With opts.Background on a platform
// that supports it the watch goes through the background path.
func (n *Native) StartWatch(opts core.TrackingOptions, onSample DeliverFunc, onError ErrorFunc) (WatchHandle, error) {
	if !n.provider.Available() {
		return "", core.NewPositionError(core.ErrorUnsupported, "location service not available")
	}

	if opts.Background && n.background.Supported() {
		h, err := n.startBackground(opts, onSample, onError)
		if err == nil {
			return h, nil
		}
		if !errors.Is(err, core.ErrPermissionDenied) {
			return "", err
		}
		n.logger.Info("Background watch not authorized, using foreground watch", "error", err)
	}
	return n.startForeground(opts, onSample, onError)
}

func (n *Native) startForeground(opts core.TrackingOptions, onSample DeliverFunc, onError ErrorFunc) (WatchHandle, error) {
	w := &watch{opts: opts, onSample: onSample, onError: onError}
	h := n.register("fg", w)

	id, err := n.provider.Watch(opts,
		func(s core.PositionSample) { n.deliver(w, s) },
		func(err error) { n.fail(w, err) },
	)
	if err != nil {
		n.remove(h)
		w.stop()
		return "", toPositionError(err)
	}
	w.mu.Lock()
	w.providerID = id
	w.mu.Unlock()
	n.logger.Debug("Native watch started", "handle", h)
	return h, nil
}

func (n *Native) startBackground(opts core.TrackingOptions, onSample DeliverFunc, onError ErrorFunc) (WatchHandle, error) {
	w := &watch{opts: opts, onSample: onSample, onError: onError, background: true}
	h := n.register("bg", w)

	id, err := n.background.AddWatcher(opts,
		func(s core.PositionSample) { n.deliver(w, s) },
		func(err error) { n.backgroundError(w, err) },
	)
	if err != nil {
		n.remove(h)
		w.stop()
		return "", toPositionError(err)
	}
	w.mu.Lock()
	w.providerID = id
	w.mu.Unlock()
	n.logger.Debug("Native background watch started", "handle", h)
	return h, nil
}

// backgroundError swallows "not authorized" on the background path and moves
// the same handle onto a foreground watch. Other errors propagate.
func (n *Native) backgroundError(w *watch, err error) {
	perr := toPositionError(err)
	if !errors.Is(perr, core.ErrPermissionDenied) {
		n.fail(w, perr)
		return
	}

	w.mu.Lock()
	if w.stopped || !w.background {
		w.mu.Unlock()
		return
	}
	oldID := w.providerID
	w.background = false
	w.providerID = ""
	w.mu.Unlock()

	n.logger.Info("Background location revoked, degrading to foreground", "handle", w.handle)
	if oldID != "" {
		n.background.RemoveWatcher(oldID)
	}

	id, ferr := n.provider.Watch(w.opts,
		func(s core.PositionSample) { n.deliver(w, s) },
		func(err error) { n.fail(w, err) },
	)
	if ferr != nil {
		n.fail(w, ferr)
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		n.provider.Clear(id)
		return
	}
	w.providerID = id
	w.mu.Unlock()
}

// StopWatch releases the watch on whichever path it is registered.
func (n *Native) StopWatch(h WatchHandle) {
	w := n.remove(h)
	if w == nil {
		return
	}
	w.stop()
	w.mu.Lock()
	id, bg := w.providerID, w.background
	w.mu.Unlock()
	if id == "" {
		return
	}
	if bg {
		n.background.RemoveWatcher(id)
	} else {
		n.provider.Clear(id)
	}
	n.logger.Debug("Native watch stopped", "handle", h)
}
