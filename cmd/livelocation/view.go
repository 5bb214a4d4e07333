package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/campusride/livelocation/internal/config"
	"github.com/campusride/livelocation/internal/device"
	"github.com/campusride/livelocation/internal/interpolate"
	"github.com/campusride/livelocation/internal/model"
	"github.com/campusride/livelocation/internal/subscription"
	"github.com/campusride/livelocation/internal/validate"
	"github.com/campusride/livelocation/pkg/core"
	"github.com/campusride/livelocation/pkg/streaming"
)

func viewFlags(fs *pflag.FlagSet) {
	fs.String("bus", "", "bus id to follow (required)")
	fs.String("user", "", "student user id; when set the view is gated by a device session")
	fs.Duration("print-interval", time.Second, "how often the rendered position is printed")
	fs.Int("trail-resolution", 8, "points per segment of the smoothed trail printed on exit")
	deviceFlags(fs)
}

func runView(ctx context.Context, fs *pflag.FlagSet) error {
	busID, _ := fs.GetString("bus")
	userID, _ := fs.GetString("user")
	every, _ := fs.GetDuration("print-interval")
	resolution, _ := fs.GetInt("trail-resolution")
	if busID == "" {
		return errors.New("--bus is required")
	}
	if every <= 0 {
		every = time.Second
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	caps := device.Probe(environmentFromFlags(fs))
	platform = caps.Platform.String()

	if userID != "" {
		arbiter, err := newArbiter(ctx, deviceInfo(caps))
		if err != nil {
			return err
		}
		defer arbiter.Close()

		feature := model.FeatureStudentLocationView
		if st := arbiter.Check(ctx, userID, feature); st.Conflict() {
			return fmt.Errorf("%w (device %s)", ErrSessionConflict, st.OtherDeviceID)
		}
		if err := arbiter.Claim(ctx, userID, feature); err != nil {
			return err
		}
		defer func() {
			relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer relCancel()
			_ = arbiter.Release(relCtx, userID, feature)
		}()
		arbiter.StartHeartbeat(ctx, userID, feature, func(err error) {
			cancel(fmt.Errorf("session taken over by another device: %w", err))
		})
	}

	ic := config.GetInterpolationConfig()
	interp := interpolate.New(interpolate.Config{
		FPS:               ic.FPS,
		Easing:            ic.Easing,
		TeleportThreshold: ic.TeleportThreshold,
		SnapDistance:      ic.SnapDistance,
		BufferSize:        ic.BufferSize,
	}, Logger.With("component", "interpolate"))

	out := &positionPrinter{w: os.Stdout}
	interp.OnUpdate(out.set)
	interp.Start(ctx)
	defer interp.Stop()

	var snapshots subscription.SnapshotSource
	if config.GetStorageConfig().Type == "gorm" {
		b, err := openStorage()
		if err != nil {
			return err
		}
		snapshots = b
	}

	gate := &sampleGate{push: interp.Push, logger: Logger.With("component", "view")}
	channelCfg := config.GetChannelConfig()
	var mgr *subscription.Manager
	mgr, err := subscription.New(busID, subscription.Dependencies{
		Transport: newTransport(channelCfg),
		Snapshots: snapshots,
		Logger:    Logger.With("component", "subscription"),
		Config:    subscriptionConfig(channelCfg),
		Callbacks: subscription.Callbacks{
			OnLocationUpdate: func(msg streaming.LocationMessage) {
				gate.offer(msg.Sample())
			},
			OnStatusChange: func(s subscription.Status) {
				fmt.Fprintf(os.Stderr, "channel %s\n", s)
				if s == subscription.StatusError {
					cancel(mgr.Err())
				}
			},
			OnTripEvent: func(msgType string, ev streaming.TripEvent) {
				fmt.Fprintf(os.Stderr, "%s trip=%s\n", msgType, ev.TripID)
			},
		},
	})
	if err != nil {
		return err
	}
	mgr.Start(ctx)
	defer mgr.Close()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			out.flush()
		}
	}

	if trail := interp.Trail(); len(trail) >= 2 {
		if ls, err := interpolate.PathLineString(interpolate.TrailPoints(trail), resolution); err == nil {
			fmt.Println(ls.AsText())
		}
	}

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// sampleGate scores inbound samples against the last one it let through.
// Low confidence samples are dropped and do not become the new reference.
type sampleGate struct {
	push   func(core.PositionSample, core.Confidence)
	logger *slog.Logger

	mu   sync.Mutex
	prev *core.PositionSample
}

func (g *sampleGate) offer(s core.PositionSample) bool {
	g.mu.Lock()
	c := validate.Score(g.prev, s)
	if c == core.ConfidenceLow {
		g.mu.Unlock()
		if g.logger != nil {
			g.logger.Debug("Dropping implausible sample", "lat", s.Latitude, "lng", s.Longitude, "timestamp", s.Timestamp)
		}
		return false
	}
	g.prev = &s
	g.mu.Unlock()

	g.push(s, c)
	return true
}

// positionPrinter keeps the newest rendered frame and prints it on flush.
type positionPrinter struct {
	w io.Writer

	mu     sync.Mutex
	latest *interpolate.Position
}

func (p *positionPrinter) set(pos interpolate.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = &pos
}

func (p *positionPrinter) flush() {
	p.mu.Lock()
	pos := p.latest
	p.latest = nil
	p.mu.Unlock()
	if pos == nil {
		return
	}
	fmt.Fprintln(p.w, formatPosition(*pos))
}

func formatPosition(p interpolate.Position) string {
	line := fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
	if p.HasHeading {
		line += fmt.Sprintf(" heading=%.0f", p.Heading)
	}
	if p.Speed != nil {
		line += fmt.Sprintf(" speed=%.1f", *p.Speed)
	}
	if xy, ok := interpolate.Project(p).XY(); ok {
		line += fmt.Sprintf(" xy=%.1f,%.1f", xy.X, xy.Y)
	}
	return line + " confidence=" + p.Confidence.String()
}
