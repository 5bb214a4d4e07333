package positioning

import (
	"context"
	"log/slog"

	"github.com/campusride/livelocation/internal/validate"
	"github.com/campusride/livelocation/pkg/core"
)

// Browser uses a single continuous watch and the web accuracy ceiling.
type Browser struct {
	common
}

// NewBrowser creates the browser strategy over p.
func NewBrowser(p Provider, ceiling validate.Ceiling, logger *slog.Logger) *Browser {
	return &Browser{common: newCommon(p, ceiling, logger)}
}

func (b *Browser) Kind() Kind { return KindBrowser }

// RequestPermission prompts for foreground access. Browsers have no
// background grant, so background is ignored.
func (b *Browser) RequestPermission(ctx context.Context, background bool) bool {
	return b.requestForeground(ctx)
}

// StartWatch begins continuous delivery. Background is not supported and ignored.
func (b *Browser) StartWatch(opts core.TrackingOptions, onSample DeliverFunc, onError ErrorFunc) (WatchHandle, error) {
	if !b.provider.Available() {
		return "", core.NewPositionError(core.ErrorUnsupported, "geolocation not available")
	}

	w := &watch{opts: opts, onSample: onSample, onError: onError}
	h := b.register("fg", w)

	id, err := b.provider.Watch(opts,
		func(s core.PositionSample) { b.deliver(w, s) },
		func(err error) { b.fail(w, err) },
	)
	if err != nil {
		b.remove(h)
		w.stop()
		return "", toPositionError(err)
	}

	w.mu.Lock()
	w.providerID = id
	w.mu.Unlock()

	b.logger.Debug("Browser watch started", "handle", h, "distanceFilter", opts.DistanceFilter)
	return h, nil
}

// StopWatch releases the watch. Unknown or already stopped handles are ignored.
func (b *Browser) StopWatch(h WatchHandle) {
	w := b.remove(h)
	if w == nil {
		return
	}
	w.stop()
	w.mu.Lock()
	id := w.providerID
	w.mu.Unlock()
	if id != "" {
		b.provider.Clear(id)
	}
	b.logger.Debug("Browser watch stopped", "handle", h)
}
