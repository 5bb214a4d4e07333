// Package session arbitrates which device may use a per-user feature.
//
// One record per (user, feature) names the owning device. A record whose
// last activity is older than the staleness window is treated as absent, so
// an abandoned claim can be taken over without being deleted first.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/campusride/livelocation/internal/model"
)

const instrumentationName = "github.com/campusride/livelocation/internal/session"

// Features arbitrated by the service.
const (
	FeatureDriverLocationShare = model.FeatureDriverLocationShare
	FeatureStudentLocationView = model.FeatureStudentLocationView
)

// Defaults.
const (
	DefaultStaleness         = 30 * time.Second
	DefaultHeartbeatInterval = 10 * time.Second
)

// ErrNotOwner is returned when a heartbeat finds the record owned elsewhere.
var ErrNotOwner = errors.New("session owned by another device")

// Record is one device claim.
type Record struct {
	UserID       string            `json:"user_id" dynamodbav:"user_id"`
	Feature      string            `json:"feature" dynamodbav:"feature"`
	DeviceID     string            `json:"device_id" dynamodbav:"device_id"`
	CreatedAt    time.Time         `json:"created_at" dynamodbav:"created_at"`
	LastActiveAt time.Time         `json:"last_active_at" dynamodbav:"last_active_at"`
	DeviceInfo   map[string]string `json:"device_info,omitempty" dynamodbav:"device_info,omitempty"`
}

// Store persists records keyed by (user, feature).
type Store interface {
	// Get returns the record, or false when none exists.
	Get(ctx context.Context, userID, feature string) (Record, bool, error)
	// Upsert creates or overwrites the record. Last writer wins.
	Upsert(ctx context.Context, rec Record) error
	// Touch sets LastActiveAt only if deviceID owns the record.
	Touch(ctx context.Context, userID, feature, deviceID string, at time.Time) (bool, error)
	// Delete removes the record only if deviceID owns it.
	Delete(ctx context.Context, userID, feature, deviceID string) error
}

// Status is the result of Check.
type Status struct {
	IsCurrentDevice  bool
	HasActiveSession bool
	OtherDeviceID    string
	SessionAge       time.Duration
}

// Conflict reports whether another device holds a live claim.
func (s Status) Conflict() bool {
	return s.HasActiveSession && !s.IsCurrentDevice
}

// Dependencies configures an Arbiter.
type Dependencies struct {
	Store             Store
	DeviceID          string
	DeviceInfo        map[string]string
	Staleness         time.Duration
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
	Now               func() time.Time
}

// Arbiter checks and maintains this device's claims.
type Arbiter struct {
	store     Store
	deviceID  string
	info      map[string]string
	staleness time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	checks metric.Int64Counter

	mu         sync.Mutex
	heartbeats map[string]context.CancelFunc
}

// NewArbiter creates an arbiter for deviceID.
func NewArbiter(deps Dependencies) (*Arbiter, error) {
	if deps.Store == nil {
		return nil, errors.New("session store is required")
	}
	if deps.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	a := &Arbiter{
		store:      deps.Store,
		deviceID:   deps.DeviceID,
		info:       deps.DeviceInfo,
		staleness:  deps.Staleness,
		interval:   deps.HeartbeatInterval,
		logger:     deps.Logger,
		now:        deps.Now,
		heartbeats: make(map[string]context.CancelFunc),
	}
	if a.staleness <= 0 {
		a.staleness = DefaultStaleness
	}
	if a.interval <= 0 {
		a.interval = DefaultHeartbeatInterval
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}

	checks, err := otel.Meter(instrumentationName).Int64Counter(
		"session.checks",
		metric.WithDescription("Session checks by outcome"),
	)
	if err != nil {
		return nil, err
	}
	a.checks = checks
	return a, nil
}

// DeviceID returns the id this arbiter claims with.
func (a *Arbiter) DeviceID() string {
	return a.deviceID
}

// Check reports who holds the (user, feature) claim. Stale records count as
// absent. A store failure fails open: no active session is reported.
func (a *Arbiter) Check(ctx context.Context, userID, feature string) Status {
	rec, ok, err := a.store.Get(ctx, userID, feature)
	if err != nil {
		a.logger.Warn("session check failed, allowing access",
			"userId", userID, "feature", feature, "error", err)
		a.count(ctx, feature, "fail_open")
		return Status{}
	}
	if !ok {
		a.count(ctx, feature, "absent")
		return Status{}
	}

	age := a.now().Sub(rec.LastActiveAt)
	if age > a.staleness {
		a.count(ctx, feature, "stale")
		return Status{}
	}

	st := Status{
		HasActiveSession: true,
		IsCurrentDevice:  rec.DeviceID == a.deviceID,
		SessionAge:       age,
	}
	if !st.IsCurrentDevice {
		st.OtherDeviceID = rec.DeviceID
		a.count(ctx, feature, "conflict")
	} else {
		a.count(ctx, feature, "owned")
	}
	return st
}

// Claim writes this device as the owner, overwriting any existing claim.
func (a *Arbiter) Claim(ctx context.Context, userID, feature string) error {
	now := a.now()
	rec := Record{
		UserID:       userID,
		Feature:      feature,
		DeviceID:     a.deviceID,
		CreatedAt:    now,
		LastActiveAt: now,
		DeviceInfo:   a.info,
	}
	if err := a.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("claim %s/%s: %w", userID, feature, err)
	}
	a.logger.Info("session claimed", "userId", userID, "feature", feature, "deviceId", a.deviceID)
	return nil
}

// Heartbeat renews the claim. It returns ErrNotOwner when another device
// has taken the record over or it no longer exists.
func (a *Arbiter) Heartbeat(ctx context.Context, userID, feature string) error {
	ok, err := a.store.Touch(ctx, userID, feature, a.deviceID, a.now())
	if err != nil {
		return fmt.Errorf("heartbeat %s/%s: %w", userID, feature, err)
	}
	if !ok {
		return ErrNotOwner
	}
	return nil
}

// Release stops any heartbeat and deletes the claim if this device owns it.
func (a *Arbiter) Release(ctx context.Context, userID, feature string) error {
	a.stopHeartbeat(key(userID, feature))
	if err := a.store.Delete(ctx, userID, feature, a.deviceID); err != nil {
		return fmt.Errorf("release %s/%s: %w", userID, feature, err)
	}
	a.logger.Info("session released", "userId", userID, "feature", feature)
	return nil
}

// StartHeartbeat renews the claim every interval until ctx is canceled,
// Release is called, or ownership is lost. onLost, if set, is called once
// when ownership is lost.
func (a *Arbiter) StartHeartbeat(ctx context.Context, userID, feature string, onLost func(error)) {
	k := key(userID, feature)
	hbCtx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	if prev, ok := a.heartbeats[k]; ok {
		prev()
	}
	a.heartbeats[k] = cancel
	a.mu.Unlock()

	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
			}
			err := a.Heartbeat(hbCtx, userID, feature)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotOwner):
				a.logger.Warn("session ownership lost", "userId", userID, "feature", feature)
				a.stopHeartbeat(k)
				if onLost != nil {
					onLost(err)
				}
				return
			default:
				// transient; the next tick retries before the claim goes stale
				a.logger.Warn("heartbeat failed", "userId", userID, "feature", feature, "error", err)
			}
		}
	}()
}

// Close stops all heartbeats.
func (a *Arbiter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, cancel := range a.heartbeats {
		cancel()
		delete(a.heartbeats, k)
	}
}

func (a *Arbiter) stopHeartbeat(k string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cancel, ok := a.heartbeats[k]; ok {
		cancel()
		delete(a.heartbeats, k)
	}
}

func (a *Arbiter) count(ctx context.Context, feature, outcome string) {
	a.checks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("feature", feature),
		attribute.String("outcome", outcome),
	))
}

func key(userID, feature string) string {
	return userID + "/" + feature
}
