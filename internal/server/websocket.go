package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skylens/skylens-ai/internal/metrics"
	"github.com/skylens/skylens-ai/internal/orchestrator"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 32
)

// wsHub fans tool lifecycle events out to WebSocket subscribers. Clients
// subscribe to one session id each; events for other sessions are not
// delivered to them.
type wsHub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*wsClient]struct{} // sessionID -> clients
	closed  bool
}

type wsClient struct {
	sessionID string
	conn      *websocket.Conn
	send      chan wsEvent
	done      chan struct{}
	once      sync.Once
}

// wsEvent is the frame pushed to subscribers.
type wsEvent struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId"`
	Event     orchestrator.ToolEvent `json:"event"`
	Timestamp string                 `json:"timestamp"`
}

func newWSHub(logger *zap.Logger, allowedOrigins []string) *wsHub {
	h := &wsHub{
		logger:  logger,
		clients: make(map[string]map[*wsClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows requests with no Origin header (non-browser
// clients) and any origin when the allow list contains "*".
func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// handleWebSocket upgrades GET /ws/chat?sessionId=... and streams tool
// events for that session until the client disconnects.
func (h *wsHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan wsEvent, wsSendBuffer),
		done:      make(chan struct{}),
	}
	if !h.register(client) {
		_ = conn.Close()
		return
	}
	metrics.WebSocketConnections.Inc()
	h.logger.Info("websocket client connected", zap.String("sessionId", sessionID))

	go h.writePump(client)
	h.readPump(client)
}

func (h *wsHub) register(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	if h.clients[c.sessionID] == nil {
		h.clients[c.sessionID] = make(map[*wsClient]struct{})
	}
	h.clients[c.sessionID][c] = struct{}{}
	return true
}

func (h *wsHub) unregister(c *wsClient) {
	h.mu.Lock()
	if set, ok := h.clients[c.sessionID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.sessionID)
			}
			metrics.WebSocketConnections.Dec()
		}
	}
	h.mu.Unlock()

	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// broadcastToolEvent is wired as the engine's OnToolEvent hook. Slow
// clients get dropped rather than blocking the orchestration turn.
func (h *wsHub) broadcastToolEvent(sessionID string, ev orchestrator.ToolEvent) {
	frame := wsEvent{
		Type:      "tool_event",
		SessionID: sessionID,
		Event:     ev,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[sessionID]))
	for c := range h.clients[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- frame:
		default:
			h.logger.Warn("dropping slow websocket client",
				zap.String("sessionId", sessionID))
			h.unregister(c)
		}
	}
}

// readPump discards inbound frames and detects disconnects.
func (h *wsHub) readPump(c *wsClient) {
	defer h.unregister(c)

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error",
					zap.String("sessionId", c.sessionID), zap.Error(err))
			}
			return
		}
	}
}

func (h *wsHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeAll disconnects every subscriber, used during shutdown.
func (h *wsHub) closeAll() {
	h.mu.Lock()
	var all []*wsClient
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.closed = true
	h.mu.Unlock()

	for _, c := range all {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		h.unregister(c)
	}
}
