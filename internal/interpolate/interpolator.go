// Package interpolate turns discrete validated samples into a frame-paced
// stream of positions for rendering.
package interpolate

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/campusride/livelocation/internal/geo"
	"github.com/campusride/livelocation/internal/queue"
	"github.com/campusride/livelocation/pkg/core"
)

const headingSnapDegrees = 0.5

// Config tunes the easing loop.
type Config struct {
	FPS               int
	Easing            float64 // fraction of remaining distance per reference frame
	TeleportThreshold float64 // meters
	SnapDistance      float64 // meters
	BufferSize        int
}

// DefaultConfig returns 60 fps, easing 0.15, teleport at 100 m, snap under 0.5 m
// and a buffer of 10 samples.
func DefaultConfig() Config {
	return Config{
		FPS:               60,
		Easing:            0.15,
		TeleportThreshold: 100,
		SnapDistance:      0.5,
		BufferSize:        10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FPS <= 0 {
		c.FPS = d.FPS
	}
	if c.Easing <= 0 {
		c.Easing = d.Easing
	}
	if c.TeleportThreshold <= 0 {
		c.TeleportThreshold = d.TeleportThreshold
	}
	if c.SnapDistance <= 0 {
		c.SnapDistance = d.SnapDistance
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	return c
}

// referenceFrame is the frame duration the easing constant is defined against.
const referenceFrame = time.Second / 60

// Position is one rendered position.
type Position struct {
	Lat        float64
	Lng        float64
	Heading    float64
	HasHeading bool
	Speed      *float64
	Timestamp  int64 // capture time of the target, epoch ms
	Confidence core.Confidence
}

// Point returns the position as a geo.Point.
func (p Position) Point() geo.Point {
	return geo.Point{Lat: p.Lat, Lng: p.Lng}
}

// FromSample builds a Position from a sample.
func FromSample(s core.PositionSample, c core.Confidence) Position {
	p := Position{
		Lat:        s.Latitude,
		Lng:        s.Longitude,
		Speed:      s.Speed,
		Timestamp:  s.Timestamp,
		Confidence: c,
	}
	if s.Heading != nil {
		p.Heading = geo.NormalizeDegrees(*s.Heading)
		p.HasHeading = true
	}
	return p
}

// Project converts p to EPSG:3857 meters.
func Project(p Position) geom.Point {
	return geo.ToWebMercator(p.Point())
}

// Interpolator eases a rendered position toward the latest target for one entity.
type Interpolator struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	current  *Position
	target   *Position
	buffer   *queue.Queue[Position]
	lastTick time.Time
	dirty    bool
	onUpdate func(Position)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// inCallback is the done channel of the loop whose OnUpdate call is in flight.
	inCallback chan struct{}
}

// New creates an idle interpolator.
func New(cfg Config, logger *slog.Logger) *Interpolator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Interpolator{
		cfg:    cfg,
		logger: logger,
		buffer: queue.NewBounded[Position](cfg.BufferSize),
	}
}

// OnUpdate sets the callback invoked on every tick that produces a position.
func (in *Interpolator) OnUpdate(f func(Position)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onUpdate = f
}

// Push makes s the new target. The first sample initializes the current
// position without animation.
func (in *Interpolator) Push(s core.PositionSample, c core.Confidence) {
	p := FromSample(s, c)

	in.mu.Lock()
	defer in.mu.Unlock()
	in.buffer.Push(p)
	if in.current == nil {
		cur := p
		in.current = &cur
		in.dirty = true
	}
	if !p.HasHeading && in.current.HasHeading {
		p.Heading, p.HasHeading = in.current.Heading, true
	}
	in.target = &p
}

// Current returns the rendered position, if any.
func (in *Interpolator) Current() (Position, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.current == nil {
		return Position{}, false
	}
	return *in.current, true
}

// Target returns the position being eased toward.
func (in *Interpolator) Target() (Position, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.target == nil {
		return Position{}, false
	}
	return *in.target, true
}

// Trail returns the buffered samples, oldest first.
func (in *Interpolator) Trail() []Position {
	return in.buffer.Items()
}

// Tick advances the animation to now. It reports whether a position was
// produced; OnUpdate is called with it outside the lock.
func (in *Interpolator) Tick(now time.Time) (Position, bool) {
	return in.tick(now, nil)
}

// tick marks the callback as running on loop so that Pause or Stop called
// from inside it do not wait for their own goroutine.
func (in *Interpolator) tick(now time.Time, loop chan struct{}) (Position, bool) {
	in.mu.Lock()
	pos, ok := in.step(now)
	cb := in.onUpdate
	if ok && cb != nil && loop != nil {
		in.inCallback = loop
	}
	in.mu.Unlock()

	if ok && cb != nil {
		cb(pos)
		if loop != nil {
			in.mu.Lock()
			if in.inCallback == loop {
				in.inCallback = nil
			}
			in.mu.Unlock()
		}
	}
	return pos, ok
}

// step must be called with mu held.
func (in *Interpolator) step(now time.Time) (Position, bool) {
	if in.current == nil || in.target == nil {
		return Position{}, false
	}

	elapsed := referenceFrame
	if !in.lastTick.IsZero() {
		elapsed = now.Sub(in.lastTick)
	}
	in.lastTick = now

	if in.settled() {
		if !in.advance() {
			if in.dirty {
				in.dirty = false
				return *in.current, true
			}
			return Position{}, false
		}
	}
	in.dirty = false

	cur, tgt := in.current, in.target
	d := geo.Distance(cur.Point(), tgt.Point())
	if d > in.cfg.TeleportThreshold {
		in.logger.Debug("Teleport, snapping to target", "distance", d)
		*cur = *tgt
		return *cur, true
	}

	factor := in.cfg.Easing * tgt.Confidence.Weight() * float64(elapsed) / float64(referenceFrame)
	factor = math.Min(math.Max(factor, 0), 1)

	cur.Lat += (tgt.Lat - cur.Lat) * factor
	cur.Lng += (tgt.Lng - cur.Lng) * factor
	if tgt.HasHeading {
		if cur.HasHeading {
			cur.Heading = geo.LerpAngle(cur.Heading, tgt.Heading, factor)
		} else {
			cur.Heading, cur.HasHeading = tgt.Heading, true
		}
	}
	cur.Speed = tgt.Speed
	cur.Timestamp = tgt.Timestamp
	cur.Confidence = tgt.Confidence

	if geo.Distance(cur.Point(), tgt.Point()) < in.cfg.SnapDistance {
		cur.Lat, cur.Lng = tgt.Lat, tgt.Lng
	}
	if tgt.HasHeading && math.Abs(geo.AngleDelta(cur.Heading, tgt.Heading)) < headingSnapDegrees {
		cur.Heading = tgt.Heading
	}
	return *cur, true
}

// settled reports whether current has reached target.
func (in *Interpolator) settled() bool {
	c, t := in.current, in.target
	return c.Lat == t.Lat && c.Lng == t.Lng && (!t.HasHeading || c.Heading == t.Heading)
}

// advance moves the target to the oldest buffered sample newer than it.
func (in *Interpolator) advance() bool {
	for _, p := range in.buffer.Items() {
		if p.Timestamp > in.target.Timestamp {
			next := p
			in.target = &next
			return true
		}
	}
	return false
}

// Start runs the frame loop until ctx ends or Stop is called. Starting a
// running interpolator is a no-op.
func (in *Interpolator) Start(ctx context.Context) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil {
		return
	}
	in.ctx = ctx
	in.startLocked()
}

func (in *Interpolator) startLocked() {
	loopCtx, cancel := context.WithCancel(in.ctx)
	done := make(chan struct{})
	in.cancel = cancel
	in.done = done
	in.lastTick = time.Time{}

	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Second / time.Duration(in.cfg.FPS))
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case now := <-ticker.C:
				if loopCtx.Err() != nil {
					return
				}
				in.tick(now, done)
			}
		}
	}()
}

// stopLoop must be called without mu held; it waits for the loop to exit
// unless the loop is inside OnUpdate, where waiting could never finish.
func (in *Interpolator) stopLoop() bool {
	in.mu.Lock()
	cancel, done := in.cancel, in.done
	in.cancel, in.done = nil, nil
	reentrant := done != nil && in.inCallback == done
	in.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	if !reentrant {
		<-done
	}
	return true
}

// Pause stops the frame loop and keeps all state. It may be called from the
// OnUpdate callback.
func (in *Interpolator) Pause() {
	in.stopLoop()
}

// Resume restarts a paused loop. Elapsed time while paused is not animated.
func (in *Interpolator) Resume() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil || in.ctx == nil || in.ctx.Err() != nil {
		return
	}
	in.startLocked()
}

// Running reports whether the frame loop is active. A loop whose parent
// context has ended is not running.
func (in *Interpolator) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cancel != nil && in.ctx.Err() == nil
}

// Stop ends the loop and discards state.
func (in *Interpolator) Stop() {
	in.stopLoop()
	in.mu.Lock()
	defer in.mu.Unlock()
	in.ctx = nil
	in.current = nil
	in.target = nil
	in.lastTick = time.Time{}
	in.dirty = false
	in.buffer.Clear()
}
