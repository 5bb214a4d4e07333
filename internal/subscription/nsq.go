package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
)

// NSQTransport publishes to topic bus_<id> on one nsqd and consumes it
// through an ephemeral per-subscriber channel.
type NSQTransport struct {
	NSQDAddr     string
	LookupdAddrs []string
	Config       *nsq.Config
	Logger       *slog.Logger
}

// Connect creates the producer and consumer. ctx is checked before connecting;
// go-nsq handles its own dial timeouts.
func (t *NSQTransport) Connect(ctx context.Context, entityID string, onMessage MessageFunc, onDrop DropFunc) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg := t.Config
	if cfg == nil {
		cfg = nsq.NewConfig()
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topic := TopicName(entityID)
	nsqLog := nsqLogger{logger: logger.With("topic", topic)}

	producer, err := nsq.NewProducer(t.NSQDAddr, cfg)
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	producer.SetLogger(nsqLog, nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("nsqd %s unreachable: %w", t.NSQDAddr, err)
	}

	// ephemeral channels disappear with their last consumer
	chName := "sub-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16] + "#ephemeral"
	consumer, err := nsq.NewConsumer(topic, chName, cfg)
	if err != nil {
		producer.Stop()
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLogger(nsqLog, nsq.LogLevelWarning)

	c := &nsqConn{topic: topic, producer: producer, consumer: consumer, onDrop: onDrop}
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		if onMessage != nil && !c.isClosed() {
			onMessage(m.Body)
		}
		return nil
	}))

	if len(t.LookupdAddrs) > 0 {
		err = consumer.ConnectToNSQLookupds(t.LookupdAddrs)
	} else {
		err = consumer.ConnectToNSQD(t.NSQDAddr)
	}
	if err != nil {
		consumer.Stop()
		producer.Stop()
		return nil, fmt.Errorf("nsq consumer connect: %w", err)
	}

	go c.watch()
	return c, nil
}

type nsqConn struct {
	topic    string
	producer *nsq.Producer
	consumer *nsq.Consumer
	onDrop   DropFunc

	mu     sync.Mutex
	closed bool
}

func (c *nsqConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// watch reports a drop when the consumer stops without Close.
func (c *nsqConn) watch() {
	<-c.consumer.StopChan
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.producer.Stop()
	if c.onDrop != nil {
		c.onDrop(fmt.Errorf("nsq consumer for %s stopped", c.topic))
	}
}

func (c *nsqConn) Publish(data []byte) error {
	if c.isClosed() {
		return ErrChannelDisconnected
	}
	if err := c.producer.Publish(c.topic, data); err != nil {
		return fmt.Errorf("nsq publish %s: %w", c.topic, err)
	}
	return nil
}

func (c *nsqConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.consumer.Stop()
	<-c.consumer.StopChan
	c.producer.Stop()
	return nil
}

// nsqLogger routes go-nsq's logger into slog.
type nsqLogger struct {
	logger *slog.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	switch {
	case strings.HasPrefix(s, "ERR"):
		l.logger.Error("nsq", "msg", s)
	case strings.HasPrefix(s, "WRN"):
		l.logger.Warn("nsq", "msg", s)
	default:
		l.logger.Debug("nsq", "msg", s)
	}
	return nil
}
