// Package websocket broadcasts topic messages to every connected WebSocket
// subscriber.
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

type Config struct {
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	AllowedOrigins []string
	// ClientBuffer is the number of frames queued per subscriber before
	// further frames to it are dropped.
	ClientBuffer int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PongTimeout  time.Duration
}

func (c *Config) ApplyDefaults() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ClientBuffer <= 0 {
		c.ClientBuffer = 256
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
}

// Envelope is the frame every subscriber receives: the topic name and the
// JSON payload published on it.
type Envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type Hub struct {
	cfg      Config
	upgrader websocket.Upgrader
	obs      ports.Observability

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(cfg Config, obs ports.Observability) *Hub {
	cfg.ApplyDefaults()
	h := &Hub{
		cfg:     cfg,
		obs:     obs,
		clients: make(map[string]*client),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     h.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return h
}

func (h *Hub) Name() string { return "websocket" }

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and registers the subscriber.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.obs.LogWarn("subscriber_upgrade_failed",
			ports.Field{Key: "remote", Value: r.RemoteAddr},
			ports.Field{Key: "error", Value: err.Error()},
		)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.ClientBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	n := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	h.obs.SetGauge(ports.MetricSubscribersConnected, float64(n))
	h.obs.LogInfo("subscriber_connected",
		ports.Field{Key: "client_id", Value: c.id},
		ports.Field{Key: "remote", Value: r.RemoteAddr},
	)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// PublishBatch queues every message for every subscriber. A subscriber whose
// buffer is full loses the frame; no subscriber at all is not an error.
func (h *Hub) PublishBatch(msgs []*domain.Message) error {
	var errs []error
	for _, m := range msgs {
		frame, err := encode(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		h.mu.RLock()
		for _, c := range h.clients {
			select {
			case c.send <- frame:
			default:
				h.obs.IncCounter(ports.MetricSubscriberDropped, 1)
			}
		}
		h.mu.RUnlock()
	}
	return errors.Join(errs...)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, "server_shutdown")
	}
	h.wg.Wait()
	return nil
}

func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c, "client_closed")

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	// subscribers only listen; anything they send is discarded
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer of c.conn and closes it on exit, which also
// ends readLoop.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.remove(c, "write_failed")
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c, "ping_failed")
				return
			}
		}
	}
}

func (h *Hub) remove(c *client, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)

		h.mu.Lock()
		delete(h.clients, c.id)
		n := len(h.clients)
		h.mu.Unlock()

		h.obs.SetGauge(ports.MetricSubscribersConnected, float64(n))
		h.obs.LogInfo("subscriber_disconnected",
			ports.Field{Key: "client_id", Value: c.id},
			ports.Field{Key: "reason", Value: reason},
		)
	})
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type client struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func encode(m *domain.Message) ([]byte, error) {
	data, err := m.EncodePayload()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Topic, err)
	}
	return json.Marshal(Envelope{Topic: m.Topic, Data: data})
}

var _ ports.Publisher = (*Hub)(nil)
