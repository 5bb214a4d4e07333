package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"

	"github.com/campusride/livelocation/internal/config"
	"github.com/campusride/livelocation/internal/device"
	"github.com/campusride/livelocation/internal/location"
	"github.com/campusride/livelocation/internal/model"
	"github.com/campusride/livelocation/internal/positioning"
	"github.com/campusride/livelocation/internal/subscription"
	"github.com/campusride/livelocation/pkg/core"
	"github.com/campusride/livelocation/pkg/streaming"
)

// ErrSessionConflict is returned when another device holds the claim and
// --force was not given.
var ErrSessionConflict = errors.New("another device is already sharing this location")

func broadcastFlags(fs *pflag.FlagSet) {
	fs.String("bus", "", "bus id to broadcast as (required)")
	fs.String("user", "", "driver user id used for the device session (required)")
	fs.String("trip", "", "trip id announced with trip_started/trip_ended")
	fs.String("replay", "", "JSON-lines replay file used as the position source (required)")
	fs.Bool("loop", false, "restart the replay file when it ends")
	fs.Bool("force", false, "take over a session held by another device")
	deviceFlags(fs)
}

func runBroadcast(ctx context.Context, fs *pflag.FlagSet) error {
	busID, _ := fs.GetString("bus")
	userID, _ := fs.GetString("user")
	tripID, _ := fs.GetString("trip")
	replayPath, _ := fs.GetString("replay")
	loop, _ := fs.GetBool("loop")
	force, _ := fs.GetBool("force")
	if busID == "" || userID == "" {
		return errors.New("--bus and --user are required")
	}
	if replayPath == "" {
		return errors.New("--replay is required: no device positioning source is available")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	provider, err := positioning.LoadReplay(replayPath, loop)
	if err != nil {
		return err
	}

	env := environmentFromFlags(fs)
	tracking := config.GetTrackingConfig()
	caps := device.Probe(env)
	platform = caps.Platform.String()

	arbiter, err := newArbiter(ctx, deviceInfo(caps))
	if err != nil {
		return err
	}
	defer arbiter.Close()

	feature := model.FeatureDriverLocationShare
	if st := arbiter.Check(ctx, userID, feature); st.Conflict() {
		if !force {
			return fmt.Errorf("%w (device %s, active %s ago)", ErrSessionConflict, st.OtherDeviceID, st.SessionAge.Round(time.Second))
		}
		Logger.Warn("Taking over session from another device", "otherDeviceId", st.OtherDeviceID)
	}
	if err := arbiter.Claim(ctx, userID, feature); err != nil {
		return err
	}
	defer func() {
		relCtx, relCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer relCancel()
		if err := arbiter.Release(relCtx, userID, feature); err != nil {
			Logger.Warn("Failed to release session", "error", err)
		}
	}()
	arbiter.StartHeartbeat(ctx, userID, feature, func(err error) {
		cancel(fmt.Errorf("session taken over by another device: %w", err))
	})

	channelCfg := config.GetChannelConfig()
	var announced atomic.Bool
	var mgr *subscription.Manager
	mgr, err = subscription.New(busID, subscription.Dependencies{
		Transport: newTransport(channelCfg),
		Logger:    Logger.With("component", "subscription"),
		Config:    subscriptionConfig(channelCfg),
		Callbacks: subscription.Callbacks{
			OnStatusChange: func(s subscription.Status) {
				Logger.Info("Channel status changed", "status", string(s))
				if s == subscription.StatusError {
					cancel(mgr.Err())
					return
				}
				if s == subscription.StatusConnected && tripID != "" && announced.CompareAndSwap(false, true) {
					if err := mgr.PublishTripEvent(streaming.TypeTripStarted, tripEvent(busID, tripID)); err != nil {
						Logger.Warn("Failed to announce trip start", "tripId", tripID, "error", err)
					}
				}
			},
		},
	})
	if err != nil {
		return err
	}
	mgr.Start(ctx)
	defer mgr.Close()

	sinks := []location.Sink{mgr}
	history, err := newHistorySink(ctx, busID)
	if err != nil {
		return err
	}
	if history != nil {
		sinks = append(sinks, history)
	}

	orch := location.New(location.Dependencies{
		Env:                 env,
		Provider:            provider,
		BackgroundEnabled:   tracking.Background,
		DesktopHighAccuracy: tracking.HighAccuracyDesktop,
		Overrides:           tracking.Overrides(),
		Sinks:               sinks,
		Logger:              Logger.With("component", "location"),
	})
	defer orch.Stop()

	if !orch.RequestPermission(ctx, tracking.Background) {
		return errors.New("location permission denied")
	}

	var accepted atomic.Int64
	_, err = orch.StartTracking(core.TrackingOverrides{},
		func(u location.Update) {
			Logger.Debug("Position accepted", "lat", u.Sample.Latitude, "lng", u.Sample.Longitude,
				"confidence", u.Confidence.String(), "accepted", accepted.Add(1))
		},
		func(err error) {
			var pe *core.PositionError
			if errors.As(err, &pe) && pe.Terminal() {
				cancel(err)
				return
			}
			Logger.Warn("Position error", "error", err)
		},
	)
	if err != nil {
		return fmt.Errorf("starting tracking: %w", err)
	}

	fmt.Printf("broadcasting bus %s as device %s (Ctrl+C to stop)\n", busID, deviceID)
	<-ctx.Done()

	if announced.Load() {
		if err := mgr.PublishTripEvent(streaming.TypeTripEnded, tripEvent(busID, tripID)); err != nil {
			Logger.Warn("Failed to announce trip end", "tripId", tripID, "error", err)
		}
	}

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

func tripEvent(busID, tripID string) streaming.TripEvent {
	return streaming.TripEvent{BusID: busID, TripID: tripID, Timestamp: time.Now().UnixMilli()}
}
