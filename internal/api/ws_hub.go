package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/simtrade/ledger-engine/internal/metrics"
)

const (
	wsReadDeadline = 60 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSMessage is pushed to every connected client when a trade is recorded.
type WSMessage struct {
	Type     string `json:"type"`
	TradeID  string `json:"trade_id"`
	Owner    string `json:"owner"`
	Asset    string `json:"asset"`
	Side     string `json:"side,omitempty"`
	Quantity string `json:"quantity,omitempty"`
	Price    string `json:"price,omitempty"`
}

// WSHub fans trade events out to WebSocket subscribers. All membership
// changes flow through the Run loop's channels; the mutex only guards the
// client set for readers outside the loop.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]struct{}
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewWSHub creates an idle hub; call Run in a goroutine to start it.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the hub event loop.
func (h *WSHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.add(conn)
		case conn := <-h.unregister:
			h.remove(conn)
		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

func (h *WSHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(n))
	slog.Info("ws client connected", "total", n)
}

func (h *WSHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(n))
}

// fanOut writes msg to every client, dropping connections whose write fails.
func (h *WSHub) fanOut(msg []byte) {
	var dead []*websocket.Conn

	h.mu.RLock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			dead = append(dead, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range dead {
		h.remove(conn)
	}
}

// Broadcast queues msg for delivery. Never blocks: if the queue is full the
// message is dropped rather than stalling trade recording.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
	}
}

func (h *WSHub) connected(conn *websocket.Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[conn]
	return ok
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // allow all origins during development
	},
}

// HandleWS upgrades GET /api/v1/ws requests and registers the connection.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn
	go h.readPump(conn)
	go h.pingLoop(conn)
}

// readPump drains inbound frames so pong handlers fire and disconnects are
// noticed promptly.
func (h *WSHub) readPump(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// pingLoop keeps the connection alive through proxies.
func (h *WSHub) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !h.connected(conn) {
			return
		}
		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			return
		}
	}
}
