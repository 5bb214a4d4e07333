// Package dispatcher routes inbound channel frames to handlers by envelope
// type, synchronously or through a per-type queue.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/campusride/livelocation/internal/dispatcher"

var (
	// ErrUnknownType is returned for frames no handler was registered for.
	ErrUnknownType = errors.New("unknown message type")
	// ErrQueueFull is returned when a non-blocking queued handler drops an event.
	ErrQueueFull = errors.New("dispatcher queue full")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
)

// Event is one inbound channel message.
type Event struct {
	Type     string
	EntityID string
	Payload  json.RawMessage
	Received time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures a route at registration.
type Option func(*route)

// Buffered runs the handler on its own goroutine behind a queue of size events.
func Buffered(size int) Option {
	return func(r *route) { r.size = size }
}

// Blocking makes a buffered route wait for room instead of dropping.
func Blocking() Option {
	return func(r *route) { r.blocking = true }
}

// Logged adds debug logging around the handler.
func Logged() Option {
	return func(r *route) { r.logged = true }
}

type route struct {
	msgType  string
	handle   HandlerFunc
	size     int
	blocking bool
	logged   bool
	queue    chan Event
	attr     attribute.KeyValue
}

// Dispatcher routes events to registered handlers.
type Dispatcher struct {
	logger Logger

	mu     sync.RWMutex
	routes map[string]*route
	closed bool
	wg     sync.WaitGroup

	processed metric.Int64Counter
	dropped   metric.Int64Counter
}

// New creates a dispatcher. Metrics go to the global OTel meter.
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger: logger,
		routes: make(map[string]*route),
	}
	m := otel.Meter(instrumentationName)

	var err error
	d.processed, err = m.Int64Counter("dispatcher.messages.processed",
		metric.WithDescription("Inbound messages handled, by type and outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating processed counter: %w", err)
	}
	d.dropped, err = m.Int64Counter("dispatcher.messages.dropped",
		metric.WithDescription("Inbound messages dropped because a queue was full"))
	if err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}

	queued, err := m.Int64ObservableGauge("dispatcher.queue.size",
		metric.WithDescription("Inbound messages waiting per type"))
	if err != nil {
		return nil, fmt.Errorf("creating queue size gauge: %w", err)
	}
	_, err = m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, r := range d.routes {
			if r.queue != nil {
				o.ObserveInt64(queued, int64(len(r.queue)), metric.WithAttributes(r.attr))
			}
		}
		return nil
	}, queued)
	if err != nil {
		return nil, fmt.Errorf("registering queue callback: %w", err)
	}
	return d, nil
}

// Register sets the handler for msgType, replacing any previous route.
// Registering after Close is ignored.
func (d *Dispatcher) Register(msgType string, h HandlerFunc, opts ...Option) {
	r := &route{msgType: msgType, handle: h, attr: attribute.String("type", msgType)}
	for _, opt := range opts {
		opt(r)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	if old, ok := d.routes[msgType]; ok && old.queue != nil {
		close(old.queue)
	}
	if r.size > 0 {
		r.queue = make(chan Event, r.size)
		d.wg.Add(1)
		go d.drain(r)
	}
	d.routes[msgType] = r
}

// Dispatch routes e to its handler. Queued routes return once e is queued.
func (d *Dispatcher) Dispatch(e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	r, ok := d.routes[e.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if r.queue == nil {
		return d.run(r, e)
	}
	if r.blocking {
		r.queue <- e
		return nil
	}
	select {
	case r.queue <- e:
		return nil
	default:
		d.dropped.Add(context.Background(), 1, metric.WithAttributes(r.attr))
		return fmt.Errorf("%w: %s", ErrQueueFull, e.Type)
	}
}

// HasHandler reports whether msgType has a route.
func (d *Dispatcher) HasHandler(msgType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.routes[msgType]
	return ok
}

// Close rejects further events and waits until queued ones are handled.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, r := range d.routes {
		if r.queue != nil {
			close(r.queue)
		}
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) drain(r *route) {
	defer d.wg.Done()
	for e := range r.queue {
		if err := d.run(r, e); err != nil && !r.logged {
			d.logger.Error("queued handler failed", "type", r.msgType, "error", err)
		}
	}
}

func (d *Dispatcher) run(r *route, e Event) error {
	start := time.Now()
	if r.logged {
		d.logger.Debug("handling message", "type", r.msgType, "entity", e.EntityID, "bytes", len(e.Payload))
	}

	err := r.handle(e)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	d.processed.Add(context.Background(), 1,
		metric.WithAttributes(r.attr, attribute.String("outcome", outcome)))

	if r.logged {
		if err != nil {
			d.logger.Error("message failed", "type", r.msgType, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("message complete", "type", r.msgType, "duration", time.Since(start))
		}
	}
	return err
}
