package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atmx/liquidity-pool/internal/metrics"
	"github.com/atmx/liquidity-pool/internal/model"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// WSMessage is a JSON message sent to websocket clients.
type WSMessage struct {
	Type  string      `json:"type"`
	Event model.Event `json:"event"`
}

type client struct {
	id     string
	conn   *websocket.Conn
	filter model.EventFilter
}

// Hub fans committed events out to websocket clients. Each client may
// narrow its feed with order_id, account and type query parameters.
type Hub struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan []model.Event
	register   chan *client
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

// NewHub creates a websocket hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []model.Event, 256),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub's event loop. It closes every client and returns when ctx
// is done.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.log.Info("ws client connected", "client", c.id, "total", n)

		case conn := <-h.unregister:
			h.drop(conn)

		case events := <-h.broadcast:
			h.send(events)
		}
	}
}

func (h *Hub) send(events []model.Event) {
	frames := make([][]byte, len(events))
	for i, ev := range events {
		data, err := json.Marshal(WSMessage{Type: "event", Event: ev})
		if err != nil {
			h.log.Error("marshal ws event", "seq", ev.Seq, "err", err)
			continue
		}
		frames[i] = data
	}

	h.mu.RLock()
	var dead []*websocket.Conn
	for conn, c := range h.clients {
		for i, ev := range events {
			if frames[i] == nil || !c.filter.Matches(ev) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frames[i]); err != nil {
				dead = append(dead, conn)
				break
			}
		}
	}
	h.mu.RUnlock()

	for _, conn := range dead {
		h.drop(conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	c, ok := h.clients[conn]
	if ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		metrics.WebSocketClients.Set(float64(n))
		h.log.Info("ws client disconnected", "client", c.id, "total", n)
	}
}

// Publish queues events for broadcast. Events are dropped when the buffer
// is full so the engine never blocks on slow clients.
func (h *Hub) Publish(_ context.Context, events []model.Event) {
	select {
	case h.broadcast <- events:
	default:
		h.log.Warn("ws broadcast buffer full, dropping events", "count", len(events))
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles websocket upgrade requests at GET /api/v1/ws.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	filter, err := streamFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, filter: filter}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep the connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}

// streamFilter reads order_id, account and type from the query.
func streamFilter(r *http.Request) (model.EventFilter, error) {
	q := r.URL.Query()
	f := model.EventFilter{Type: model.EventType(q.Get("type"))}
	if v := q.Get("order_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, errBadQuery("order_id must be a positive integer")
		}
		f.OrderID = id
	}
	if v := q.Get("account"); v != "" {
		if !common.IsHexAddress(v) {
			return f, errBadQuery("account must be a hex address")
		}
		a := common.HexToAddress(v)
		f.Account = &a
	}
	return f, nil
}
