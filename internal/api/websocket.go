package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"danmaku/internal/game"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	wsSendBuffer   = 4
	wsWriteTimeout = 5 * time.Second
	wsMaxMessage   = MaxCommandBody
)

// Wire formats for snapshot frames
const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// wsEnvelope wraps every server message.
type wsEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// wsClient tracks a WebSocket connection with its source IP
type wsClient struct {
	conn   *websocket.Conn
	ip     string
	format string
	send   chan []byte
	once   sync.Once

	// readOnly viewers may watch but not submit commands
	readOnly bool
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// WebSocketHub streams world snapshots to connected viewers and accepts
// commands from them, with per-IP and total connection limits.
type WebSocketHub struct {
	engine   EngineInterface
	auth     *TokenAuth
	upgrader websocket.Upgrader
	hz       int

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// Socket slots and spawn budgets per client
	limiter *ClientLimiter
}

// NewWebSocketHub creates a hub broadcasting at hz snapshots per second.
// When auth is enabled only viewers presenting the token may send commands.
func NewWebSocketHub(engine EngineInterface, origins *OriginChecker, auth *TokenAuth, limiter *ClientLimiter, hz int) *WebSocketHub {
	if hz <= 0 {
		hz = 20
	}
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	h := &WebSocketHub{
		engine:  engine,
		auth:    auth,
		hz:      hz,
		clients: make(map[*wsClient]struct{}),
		limiter: limiter,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origins.Allowed(origin) {
				return true
			}
			log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
			RecordConnectionRejected("origin")
			return false
		},
	}
	return h
}

// Run broadcasts the latest snapshot until ctx is done, then disconnects
// every client.
func (h *WebSocketHub) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second / time.Duration(h.hz))
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			snap := h.engine.Snapshot()
			if snap == nil || snap.Sequence == lastSeq {
				continue
			}
			lastSeq = snap.Sequence
			h.broadcastSnapshot(snap)
		}
	}
}

// broadcastSnapshot encodes snap at most once per format in use.
func (h *WebSocketHub) broadcastSnapshot(snap *game.WorldSnapshot) {
	frames := make(map[string][]byte, 2)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		frame, ok := frames[c.format]
		if !ok {
			var err error
			frame, err = encodeFrame(c.format, wsEnvelope{Event: "world:snapshot", Data: snap})
			if err != nil {
				log.Printf("⚠️ Snapshot encode failed (%s): %v", c.format, err)
				return
			}
			frames[c.format] = frame
		}
		select {
		case c.send <- frame:
			IncrementWSMessages()
		default:
			// Slow viewer; it gets the next snapshot instead
		}
	}
}

// encodeFrame serializes a message. Msgpack frames reuse the JSON field
// names so both formats decode to the same shape.
func encodeFrame(format string, msg wsEnvelope) ([]byte, error) {
	if format != FormatMsgpack {
		return json.Marshal(msg)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func messageType(format string) int {
	if format == FormatMsgpack {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) register(c *wsClient) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	UpdateWSConnections(len(h.clients))
	return len(h.clients)
}

func (h *WebSocketHub) unregister(c *wsClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.limiter.ReleaseSocket(c.ip)
	c.close()
	UpdateWSConnections(count)
	log.Printf("📱 Viewer disconnected (%d remaining)", count)
}

func (h *WebSocketHub) closeAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.unregister(c)
	}
}

// HandleWebSocket upgrades a viewer connection. ?format=msgpack switches
// snapshot frames to binary msgpack; commands are always JSON. Browsers
// cannot set headers on an upgrade, so the token may also come as ?token=.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := GetClientIP(r)

	if total := h.ClientCount(); total >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.limiter.AcquireSocket(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	format := FormatJSON
	if r.URL.Query().Get("format") == FormatMsgpack {
		format = FormatMsgpack
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.limiter.ReleaseSocket(ip)
		return
	}
	conn.SetReadLimit(wsMaxMessage)

	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	c := &wsClient{
		conn:     conn,
		ip:       ip,
		format:   format,
		send:     make(chan []byte, wsSendBuffer),
		readOnly: !h.auth.Valid(token),
	}
	count := h.register(c)
	log.Printf("📱 Viewer connected from %s as %s (%d total)", ip, format, count)

	go h.writePump(c)
	go h.readPump(c)
}

// writePump owns all writes to the connection.
func (h *WebSocketHub) writePump(c *wsClient) {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(messageType(c.format), frame); err != nil {
			h.unregister(c)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(time.Second))
}

// readPump submits commands sent by the viewer and acknowledges them.
func (h *WebSocketHub) readPump(c *wsClient) {
	defer h.unregister(c)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		reply := wsEnvelope{Event: "commands:ack"}
		cmds, err := decodeCommands(message)
		if c.readOnly {
			RecordConnectionRejected("auth")
			reply = wsEnvelope{Event: "commands:error", Data: map[string]string{"error": "unauthorized"}}
		} else if err != nil {
			reply = wsEnvelope{Event: "commands:error", Data: map[string]string{"error": err.Error()}}
		} else {
			accepted, failed, _ := submitAll(h.engine, cmds, func(cmd game.Command) error {
				return h.limiter.AdmitCommand(c.ip, cmd)
			})
			reply.Data = map[string]any{"accepted": accepted, "rejected": failed}
		}

		frame, err := encodeFrame(c.format, reply)
		if err != nil {
			continue
		}
		if !h.trySend(c, frame) {
			return
		}
	}
}

// trySend queues a frame unless the client is gone or its buffer is full.
func (h *WebSocketHub) trySend(c *wsClient, frame []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- frame:
	default:
	}
	return true
}
