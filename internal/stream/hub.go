package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nexusgrid/internal/observability/metrics"
	telemetry "nexusgrid/internal/telemetry/domain"
)

const (
	defaultSendBuffer   = 16
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	pongWait            = 60 * time.Second
)

// Envelope is the frame written to stream subscribers.
type Envelope struct {
	Type     string    `json:"type"`
	DeviceID string    `json:"device_id"`
	At       time.Time `json:"at"`
	Data     any       `json:"data"`
}

type client struct {
	id       string
	deviceID string // empty subscribes to all devices
	send     chan []byte
}

// Hub fans telemetry out to WebSocket subscribers. Delivery is best-effort:
// a subscriber whose buffer is full loses the frame rather than stalling the
// ingest path.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *log.Logger
}

// Option configures the hub.
type Option func(*Hub)

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(h *Hub) {
		if timeout > 0 {
			h.writeTimeout = timeout
		}
	}
}

// WithPingInterval overrides the keepalive interval.
func WithPingInterval(interval time.Duration) Option {
	return func(h *Hub) {
		if interval > 0 {
			h.pingInterval = interval
		}
	}
}

// NewHub constructs a stream hub.
func NewHub(logger *log.Logger, opts ...Option) (*Hub, error) {
	if logger == nil {
		logger = log.Default()
	}
	hub := &Hub{
		clients: make(map[string]*client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin dashboards are expected; auth happens upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(hub)
	}
	return hub, nil
}

// ServeHTTP upgrades the request and keeps the subscription open until the
// peer disconnects. The optional "device" query parameter narrows the
// subscription to one device.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("stream: upgrade error: %v", err)
		return
	}

	c := &client{
		id:       uuid.NewString(),
		deviceID: r.URL.Query().Get("device"),
		send:     make(chan []byte, defaultSendBuffer),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Printf("stream: subscriber connected: id=%s device=%q", c.id, c.deviceID)

	go h.writePump(conn, c)
	h.readPump(conn, c)
}

func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer h.drop(c)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		// Subscribers are read-only; inbound frames only reset deadlines.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Printf("stream: subscriber disconnected: id=%s", c.id)
}

// PublishReading broadcasts one reading to matching subscribers. Never blocks.
func (h *Hub) PublishReading(reading telemetry.Reading) {
	if h == nil {
		return
	}
	h.publish(Envelope{
		Type:     "reading",
		DeviceID: reading.DeviceID,
		At:       reading.Timestamp,
		Data:     reading,
	})
}

// PublishFault broadcasts a fault event frame.
func (h *Hub) PublishFault(deviceID string, at time.Time, data any) {
	if h == nil {
		return
	}
	h.publish(Envelope{Type: "fault", DeviceID: deviceID, At: at, Data: data})
}

func (h *Hub) publish(envelope Envelope) {
	frame, err := json.Marshal(envelope)
	if err != nil {
		h.logger.Printf("stream: marshal error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.deviceID != "" && c.deviceID != envelope.DeviceID {
			continue
		}
		select {
		case c.send <- frame:
			metrics.IncBroadcast("delivered")
		default:
			metrics.IncBroadcast("dropped")
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
