package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/campusride/livelocation/internal/channel"
)

const (
	sendQueueSize = 256
	writeWait     = 10 * time.Second
)

// WebSocketTransport dials the relay at URL with ?channel=bus:<id>.
type WebSocketTransport struct {
	URL    string
	Header http.Header
	Dialer *ws.Dialer
	Logger *slog.Logger
}

// Connect dials and starts the read and write loops.
func (t *WebSocketTransport) Connect(ctx context.Context, entityID string, onMessage MessageFunc, onDrop DropFunc) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("channel", ChannelName(entityID))
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = ws.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), t.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &wsConn{
		conn:      conn,
		send:      channel.New[[]byte](sendQueueSize),
		done:      make(chan struct{}),
		onMessage: onMessage,
		onDrop:    onDrop,
		logger:    logger,
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// wsConn owns one websocket with a single write goroutine.
type wsConn struct {
	mu     sync.Mutex
	conn   *ws.Conn
	send   *channel.Outbox[[]byte]
	done   chan struct{} // closed on shutdown or drop
	closed bool

	onMessage MessageFunc
	onDrop    DropFunc
	logger    *slog.Logger
}

func (c *wsConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data, ok := <-c.send.C():
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.drop(err)
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.drop(err)
				return
			}
		}
	}
}

func (c *wsConn) readLoop() {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.drop(err)
			return
		}
		if c.onMessage != nil {
			c.onMessage(message)
		}
	}
}

// drop reports an unexpected loss exactly once. After Close it is silent.
func (c *wsConn) drop(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.send.Close()

	_ = c.conn.Close()
	if c.onDrop != nil {
		c.onDrop(err)
	}
}

// Publish queues data for the write loop without blocking. A stalled writer
// loses its oldest frames, never the one being published.
func (c *wsConn) Publish(data []byte) error {
	before := c.send.Evicted()
	if !c.send.Push(data) {
		return ErrChannelDisconnected
	}
	if n := c.send.Evicted() - before; n > 0 {
		c.logger.Debug("WebSocket send queue full, evicted oldest frames", "evicted", n)
	}
	return nil
}

// Close sends a close frame and shuts down both loops.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.send.Close()

	_ = c.conn.WriteControl(
		ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return c.conn.Close()
}
