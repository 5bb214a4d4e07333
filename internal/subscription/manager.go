// Package subscription keeps one live channel per tracked entity: publish,
// inbound decode, reconnect with backoff and background teardown.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/campusride/livelocation/internal/cache"
	"github.com/campusride/livelocation/internal/dispatcher"
	"github.com/campusride/livelocation/internal/trip"
	"github.com/campusride/livelocation/pkg/core"
	"github.com/campusride/livelocation/pkg/streaming"
)

const instrumentationName = "github.com/campusride/livelocation/internal/subscription"

// SnapshotSource returns the most recent persisted location for an entity.
type SnapshotSource interface {
	Latest(ctx context.Context, entityID string) (streaming.LocationMessage, bool, error)
}

// Config tunes reconnects and lifecycle throttling.
type Config struct {
	MaxReconnectAttempts int
	BaseBackoff          time.Duration
	BackgroundTeardown   time.Duration
	ConnectTimeout       time.Duration
}

// DefaultConfig returns 5 attempts from 1s, and a 5 minute background teardown.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 5,
		BaseBackoff:          time.Second,
		BackgroundTeardown:   300 * time.Second,
		ConnectTimeout:       10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.BackgroundTeardown <= 0 {
		c.BackgroundTeardown = d.BackgroundTeardown
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	return c
}

// Backoff returns the delay before reconnect attempt n (1-based): base·2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Callbacks are invoked outside the manager's lock, possibly from transport goroutines.
type Callbacks struct {
	OnLocationUpdate func(streaming.LocationMessage)
	OnStatusChange   func(Status)
	OnTripEvent      func(msgType string, ev streaming.TripEvent)
}

// Dependencies holds everything a Manager needs.
type Dependencies struct {
	Transport Transport
	Snapshots SnapshotSource
	Trips     *trip.Context
	Cache     *cache.LocationCache
	Scheduler Scheduler
	Logger    *slog.Logger
	Config    Config
	Callbacks Callbacks
}

// Manager owns the channel for one entity.
type Manager struct {
	entityID   string
	transport  Transport
	snapshots  SnapshotSource
	trips      *trip.Context
	cache      *cache.LocationCache
	sched      Scheduler
	logger     *slog.Logger
	cfg        Config
	cb         Callbacks
	dispatcher *dispatcher.Dispatcher

	reconnects metric.Int64Counter
	stateGauge metric.Int64Gauge
	attrs      metric.MeasurementOption

	mu       sync.Mutex
	ctx      context.Context
	state    State
	conn     Conn
	gen      uint64
	attempts int
	retry    Timer
	teardown Timer
	hidden   bool
	hideSeq  uint64
	closed   bool
	lastErr  error
}

// New creates a manager for entityID. Call Start to open the channel.
func New(entityID string, deps Dependencies) (*Manager, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("subscription for %s: no transport", entityID)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sched := deps.Scheduler
	if sched == nil {
		sched = WallClock
	}
	trips := deps.Trips
	if trips == nil {
		trips = trip.NewContext()
	}

	d, err := dispatcher.New(logger)
	if err != nil {
		return nil, fmt.Errorf("creating inbound dispatcher: %w", err)
	}

	m := &Manager{
		entityID:   entityID,
		transport:  deps.Transport,
		snapshots:  deps.Snapshots,
		trips:      trips,
		cache:      deps.Cache,
		sched:      sched,
		logger:     logger.With("entity", entityID),
		cfg:        deps.Config.withDefaults(),
		cb:         deps.Callbacks,
		dispatcher: d,
		ctx:        context.Background(),
		state:      StateDisconnected,
		attrs:      metric.WithAttributes(attribute.String("entity", entityID)),
	}

	meter := otel.Meter(instrumentationName)
	m.reconnects, err = meter.Int64Counter("subscription.reconnect.attempts",
		metric.WithDescription("Reconnect attempts scheduled after a channel failure"))
	if err != nil {
		return nil, fmt.Errorf("creating reconnect counter: %w", err)
	}
	m.stateGauge, err = meter.Int64Gauge("subscription.state",
		metric.WithDescription("Channel state: 0 connecting, 1 connected, 2 disconnected, 3 errored"))
	if err != nil {
		return nil, fmt.Errorf("creating state gauge: %w", err)
	}

	d.Register(streaming.TypeLocation, m.handleLocation, dispatcher.Logged())
	d.Register(streaming.TypeTripStarted, m.handleTrip, dispatcher.Logged())
	d.Register(streaming.TypeTripEnded, m.handleTrip, dispatcher.Logged())

	return m, nil
}

// EntityID returns the tracked entity.
func (m *Manager) EntityID() string { return m.entityID }

// Trips returns the trip lifecycle context fed by inbound events.
func (m *Manager) Trips() *trip.Context { return m.trips }

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error behind the Disconnected or Errored state, if any.
// In Errored it wraps ErrChannelExhausted.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Start opens the channel. ctx bounds dials and snapshot fetches for the
// manager's lifetime.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	m.connect()
}

// Restart leaves any state, including Errored, and begins a fresh cycle with
// the attempt counter reset.
func (m *Manager) Restart() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopTimer(&m.retry)
	m.gen++
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info("Restarting channel")
	m.connect()
}

// Close tears everything down. The manager cannot be restarted afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.gen++
	m.stopTimer(&m.retry)
	m.stopTimer(&m.teardown)
	conn := m.conn
	m.conn = nil
	st, changed := m.transition(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.dispatcher.Close()
	m.emit(st, changed)
}

// OnBackground starts the teardown countdown.
func (m *Manager) OnBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hidden || m.closed {
		return
	}
	m.hidden = true
	m.hideSeq++
	seq := m.hideSeq
	m.teardown = m.sched.AfterFunc(m.cfg.BackgroundTeardown, func() { m.tearDown(seq) })
	m.logger.Debug("Host hidden, channel teardown scheduled", "after", m.cfg.BackgroundTeardown)
}

// OnForeground cancels a pending teardown. If no channel exists and none is
// being established or scheduled, a fresh cycle starts immediately. Errored
// still needs Restart.
func (m *Manager) OnForeground() {
	m.mu.Lock()
	if !m.hidden || m.closed {
		m.mu.Unlock()
		return
	}
	m.hidden = false
	m.hideSeq++
	m.stopTimer(&m.teardown)
	resubscribe := m.conn == nil && m.retry == nil &&
		m.state != StateConnecting && m.state != StateErrored
	if resubscribe {
		m.attempts = 0
	}
	m.mu.Unlock()

	if resubscribe {
		m.logger.Info("Host visible again, resubscribing")
		m.connect()
	}
}

// Publish compacts s and sends it on the channel.
func (m *Manager) Publish(s core.PositionSample) error {
	data, err := streaming.EncodeLocation(m.entityID, s)
	if err != nil {
		return fmt.Errorf("encode location: %w", err)
	}
	return m.send(data)
}

// PublishTripEvent sends a trip lifecycle event.
func (m *Manager) PublishTripEvent(msgType string, ev streaming.TripEvent) error {
	if ev.BusID == "" {
		ev.BusID = m.entityID
	}
	data, err := streaming.MarshalEnvelope(msgType, ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	return m.send(data)
}

// HandleSample publishes accepted samples; failures are logged, not returned.
func (m *Manager) HandleSample(s core.PositionSample, _ core.Confidence) {
	if err := m.Publish(s); err != nil {
		m.logger.Debug("Sample not published", "error", err)
	}
}

func (m *Manager) send(data []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrChannelDisconnected
	}
	return conn.Publish(data)
}

func (m *Manager) connect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	m.retry = nil
	ctx := m.ctx
	st, changed := m.transition(StateConnecting)
	m.mu.Unlock()
	m.emit(st, changed)

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	conn, err := m.transport.Connect(dialCtx, m.entityID,
		func(data []byte) { m.receive(gen, data) },
		func(err error) { m.failed(gen, fmt.Errorf("%w: %v", ErrChannelDisconnected, err)) },
	)
	cancel()
	if err != nil {
		m.failed(gen, err)
		return
	}

	m.mu.Lock()
	// A drop reported during Connect has already scheduled the next attempt.
	if gen != m.gen || m.closed || m.retry != nil || m.state != StateConnecting {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	st, changed = m.transition(StateConnected)
	m.mu.Unlock()

	m.logger.Info("Channel connected", "channel", ChannelName(m.entityID))
	m.emit(st, changed)
	m.fetchSnapshot(ctx, gen)
}

func (m *Manager) failed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.conn = nil
	if conn != nil {
		defer conn.Close()
	}

	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.lastErr = fmt.Errorf("%w after %d attempts: %v", ErrChannelExhausted, m.attempts, err)
		st, changed := m.transition(StateErrored)
		m.mu.Unlock()
		m.logger.Error("Channel reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts, "error", err)
		m.emit(st, changed)
		return
	}

	m.attempts++
	attempt := m.attempts
	delay := Backoff(m.cfg.BaseBackoff, attempt)
	m.lastErr = err
	m.retry = m.sched.AfterFunc(delay, func() { m.retryConnect(gen) })
	st, changed := m.transition(StateDisconnected)
	m.mu.Unlock()

	m.reconnects.Add(context.Background(), 1, m.attrs)
	m.logger.Warn("Channel lost, reconnecting", "attempt", attempt, "backoff", delay, "error", err)
	m.emit(st, changed)
}

func (m *Manager) retryConnect(gen uint64) {
	m.mu.Lock()
	stale := gen != m.gen || m.closed || m.retry == nil
	m.mu.Unlock()
	if stale {
		return
	}
	m.connect()
}

func (m *Manager) tearDown(seq uint64) {
	m.mu.Lock()
	if !m.hidden || seq != m.hideSeq || m.closed {
		m.mu.Unlock()
		return
	}
	m.teardown = nil
	m.stopTimer(&m.retry)
	m.gen++
	conn := m.conn
	m.conn = nil
	m.attempts = 0
	m.lastErr = nil
	st, changed := m.transition(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.logger.Info("Channel torn down while in background")
	m.emit(st, changed)
}

func (m *Manager) fetchSnapshot(ctx context.Context, gen uint64) {
	if m.snapshots == nil {
		return
	}
	loc, ok, err := m.snapshots.Latest(ctx, m.entityID)
	if err != nil {
		m.logger.Warn("Snapshot fetch failed", "error", err)
		return
	}
	if !ok {
		return
	}
	m.mu.Lock()
	current := gen == m.gen && !m.closed
	m.mu.Unlock()
	if current {
		m.deliverLocation(loc)
	}
}

func (m *Manager) receive(gen uint64, data []byte) {
	m.mu.Lock()
	current := gen == m.gen && !m.closed
	m.mu.Unlock()
	if !current {
		return
	}

	env := streaming.DecodeFrame(data)
	err := m.dispatcher.Dispatch(dispatcher.Event{
		Type:     env.Type,
		EntityID: m.entityID,
		Payload:  env.Payload,
		Received: time.Now(),
	})
	if err != nil {
		m.logger.Debug("Inbound message dropped", "type", env.Type, "error", err)
	}
}

func (m *Manager) handleLocation(e dispatcher.Event) error {
	loc, err := streaming.DecodeLocation(e.Payload)
	if err != nil {
		return err
	}
	if loc.BusID == "" {
		loc.BusID = m.entityID
	}
	if loc.BusID != m.entityID {
		return fmt.Errorf("location for %s on channel %s", loc.BusID, ChannelName(m.entityID))
	}
	m.deliverLocation(loc)
	return nil
}

func (m *Manager) handleTrip(e dispatcher.Event) error {
	var ev streaming.TripEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return fmt.Errorf("decode %s: %w", e.Type, err)
	}
	if ev.BusID == "" {
		ev.BusID = m.entityID
	}
	m.trips.Apply(e.Type, ev, e.Received)
	if m.cb.OnTripEvent != nil {
		m.cb.OnTripEvent(e.Type, ev)
	}
	return nil
}

func (m *Manager) deliverLocation(loc streaming.LocationMessage) {
	if m.cache != nil {
		m.cache.Put(loc)
	}
	if m.cb.OnLocationUpdate != nil {
		m.cb.OnLocationUpdate(loc)
	}
}

// transition must be called with mu held.
func (m *Manager) transition(s State) (Status, bool) {
	prev := m.state.Status()
	m.state = s
	m.stateGauge.Record(context.Background(), int64(s), m.attrs)
	return s.Status(), s.Status() != prev
}

func (m *Manager) emit(st Status, changed bool) {
	if changed && m.cb.OnStatusChange != nil {
		m.cb.OnStatusChange(st)
	}
}

// stopTimer must be called with mu held.
func (m *Manager) stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
