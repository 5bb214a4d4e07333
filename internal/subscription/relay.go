package subscription

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/campusride/livelocation/internal/channel"
)

const relayClientQueue = 64

// ObserveFunc sees every frame a relay forwards.
type ObserveFunc func(channelName string, data []byte)

// Relay is the websocket fan-out behind WebSocketTransport. Every frame a
// client sends is forwarded to the other clients on the same channel.
type Relay struct {
	upgrader ws.Upgrader
	logger   *slog.Logger
	observe  ObserveFunc

	mu    sync.Mutex
	rooms map[string]map[*relayClient]struct{}
}

type relayClient struct {
	conn *ws.Conn
	out  *channel.Outbox[[]byte]
}

// NewRelay creates a relay. observe may be nil.
func NewRelay(logger *slog.Logger, observe ObserveFunc) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		upgrader: ws.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		observe: observe,
		rooms:   make(map[string]map[*relayClient]struct{}),
	}
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("channel")
	if name == "" {
		http.Error(w, "missing channel", http.StatusBadRequest)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &relayClient{conn: conn, out: channel.New[[]byte](relayClientQueue)}
	go c.writeLoop()
	r.join(name, c)
	defer func() {
		r.leave(name, c)
		c.out.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if r.observe != nil {
			r.observe(name, msg)
		}
		r.broadcast(name, c, msg)
	}
}

// Subscribers returns the number of clients on a channel.
func (r *Relay) Subscribers(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[name])
}

func (r *Relay) join(name string, c *relayClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[name]
	if !ok {
		room = make(map[*relayClient]struct{})
		r.rooms[name] = room
	}
	room[c] = struct{}{}
	r.logger.Debug("Relay client joined", "channel", name, "clients", len(room))
}

func (r *Relay) leave(name string, c *relayClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[name], c)
	if len(r.rooms[name]) == 0 {
		delete(r.rooms, name)
	}
	_ = c.conn.Close()
}

func (r *Relay) broadcast(name string, from *relayClient, msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for c := range r.rooms[name] {
		if c == from {
			continue
		}
		c.out.Push(msg)
	}
}

func (c *relayClient) writeLoop() {
	for msg := range c.out.C() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(ws.TextMessage, msg); err != nil {
			return
		}
	}
}

// Close disconnects every client. Handlers return as their reads fail.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, room := range r.rooms {
		for c := range room {
			_ = c.conn.Close()
		}
	}
}
