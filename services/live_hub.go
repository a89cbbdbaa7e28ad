// LiveHub pushes leaderboard updates to websocket clients watching one owner
// and period. Publish never blocks: only the newest leaderboard is kept and
// the Run loop fans it out. A client that cannot keep up is dropped.
package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"readySchoolsAPI/internal/leaderboard"
	"readySchoolsAPI/internal/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	clientSendBuffer = 8
)

type LiveMessage struct {
	Action      string                  `json:"action"`
	Leaderboard leaderboard.Leaderboard `json:"leaderboard"`
}

type LiveHub struct {
	key string
	log *logger.Logger

	clients    map[*LiveClient]bool
	register   chan *LiveClient
	unregister chan *LiveClient

	mu     sync.Mutex
	latest []byte
	signal chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	stopped   chan struct{}
}

func NewLiveHub(key string, log *logger.Logger) *LiveHub {
	if log == nil {
		log = logger.Nop()
	}
	return &LiveHub{
		key:        key,
		log:        log.With("component", "LiveHub", "session", key),
		clients:    make(map[*LiveClient]bool),
		register:   make(chan *LiveClient),
		unregister: make(chan *LiveClient),
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Publish replaces the pending update with lb.
func (h *LiveHub) Publish(lb leaderboard.Leaderboard) {
	data, err := json.Marshal(LiveMessage{Action: "leaderboard_update", Leaderboard: lb})
	if err != nil {
		h.log.Error("failed to marshal leaderboard update", "error", err)
		return
	}
	h.mu.Lock()
	h.latest = data
	h.mu.Unlock()

	select {
	case h.signal <- struct{}{}:
	default:
	}
}

// Register adds c. The newest published leaderboard is sent right away.
func (h *LiveHub) Register(c *LiveClient) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *LiveHub) Unregister(c *LiveClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Clients counts connected clients. Only meaningful while Run is active.
func (h *LiveHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *LiveHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
	<-h.stopped
}

func (h *LiveHub) Run() {
	defer close(h.stopped)
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				close(c.Send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			data := h.latest
			h.mu.Unlock()
			h.log.Debug("live client connected", "clients", h.Clients())
			if data != nil {
				h.send(c, data)
			}

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
			}
			h.mu.Unlock()

		case <-h.signal:
			h.mu.Lock()
			data := h.latest
			targets := make([]*LiveClient, 0, len(h.clients))
			for c := range h.clients {
				targets = append(targets, c)
			}
			h.mu.Unlock()
			for _, c := range targets {
				h.send(c, data)
			}
		}
	}
}

func (h *LiveHub) send(c *LiveClient, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.Send)
		}
		h.mu.Unlock()
		h.log.Warn("dropping slow live client")
	}
}

// LiveClient is the middleman between one websocket connection and the hub.
type LiveClient struct {
	Hub  *LiveHub
	Conn *websocket.Conn
	Send chan []byte
}

func NewLiveClient(hub *LiveHub, conn *websocket.Conn) *LiveClient {
	return &LiveClient{Hub: hub, Conn: conn, Send: make(chan []byte, clientSendBuffer)}
}

// ReadPump only keeps the read deadline alive. Clients never send commands.
func (c *LiveClient) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Hub.log.Debug("live client read failed", "error", err)
			}
			return
		}
	}
}

// WritePump handles messages going to the browser.
func (c *LiveClient) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
