package httpapi

import (
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketBufferSize bounds the per-client send queue, matching
// internal/server/hub.go's WebSocketBufferSize.
const WebSocketBufferSize = 256

// EventType distinguishes the live-feed messages clients receive.
type EventType string

const (
	EventTaskReady      EventType = "task_ready"
	EventClaimReleased  EventType = "claim_released"
	EventLearningCreated EventType = "learning_created"
)

// Event is the envelope broadcast over the live change feed.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// liveClient is one connected WebSocket subscriber.
type liveClient struct {
	hub  *liveHub
	conn *websocket.Conn
	send chan []byte
}

// liveHub fans events out to every connected client, adapted directly from
// internal/server/hub.go's register/unregister/broadcast channel loop.
type liveHub struct {
	mu         sync.RWMutex
	clients    map[*liveClient]bool
	register   chan *liveClient
	unregister chan *liveClient
	broadcast  chan []byte
}

func newLiveHub() *liveHub {
	return &liveHub{
		clients:    make(map[*liveClient]bool),
		register:   make(chan *liveClient),
		unregister: make(chan *liveClient),
		broadcast:  make(chan []byte, WebSocketBufferSize),
	}
}

func (h *liveHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *liveHub) broadcastEvent(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.broadcast <- data
}

// ClientCount reports how many clients are currently subscribed.
func (h *liveHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *liveClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *liveClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// allowedOrigins mirrors internal/server/handlers.go's env-configurable
// origin allowlist, renamed to this module's env var.
var allowedOrigins = initAllowedOrigins()

func initAllowedOrigins() []string {
	defaults := []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
	}
	if env := os.Getenv("TXGRAPH_ALLOWED_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				defaults = append(defaults, origin)
			}
		}
	}
	return defaults
}

func checkWebSocketOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if host := originURL.Hostname(); host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Hostname() != allowedURL.Hostname() || originURL.Scheme != allowedURL.Scheme {
			continue
		}
		if allowedURL.Port() == "" || originURL.Port() == allowedURL.Port() {
			return true
		}
	}
	return false
}

var liveUpgrader = websocket.Upgrader{CheckOrigin: checkWebSocketOrigin}

// handleLiveFeed upgrades the connection and registers the client on the
// shared hub; it never blocks the request goroutine past the handshake.
func (s *Server) handleLiveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := liveUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &liveClient{hub: s.live, conn: conn, send: make(chan []byte, WebSocketBufferSize)}
	s.live.register <- client
	go client.readPump()
	go client.writePump()
}

// PublishTaskReady pushes a task_ready event to every connected live-feed
// client. A nil hub (server constructed without live-feed support) no-ops.
func (s *Server) PublishTaskReady(taskID string, score int) {
	if s.live == nil {
		return
	}
	s.live.broadcastEvent(Event{Type: EventTaskReady, Data: map[string]any{
		"taskId": taskID, "score": score, "timestamp": time.Now().UTC(),
	}})
}

func (s *Server) PublishClaimReleased(taskID, workerID string) {
	if s.live == nil {
		return
	}
	s.live.broadcastEvent(Event{Type: EventClaimReleased, Data: map[string]any{
		"taskId": taskID, "workerId": workerID, "timestamp": time.Now().UTC(),
	}})
}

func (s *Server) PublishLearningCreated(learningID int64) {
	if s.live == nil {
		return
	}
	s.live.broadcastEvent(Event{Type: EventLearningCreated, Data: map[string]any{
		"learningId": learningID, "timestamp": time.Now().UTC(),
	}})
}
