package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"quant/internal/domain"
	"quant/internal/eventbus"
	"quant/pkg/quant"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS is handled by the HTTP middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// envelope is a message for clients watching symbol. Order updates carry no
// symbol filter and reach every client.
type envelope struct {
	symbol string
	data   []byte
}

// Client represents a single WebSocket connection managed by a Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	id   string

	mu      sync.RWMutex
	symbols map[string]bool // empty means every symbol
}

func (c *Client) wants(symbol string) bool {
	if symbol == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.symbols) == 0 || c.symbols[symbol]
}

func (c *Client) apply(req quant.StreamRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range req.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		switch req.Op {
		case "subscribe":
			c.symbols[s] = true
		case "unsubscribe":
			delete(c.symbols, s)
		}
	}
}

// Hub fans ticks and order updates from the event bus out to websocket
// clients.
type Hub struct {
	log        *slog.Logger
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client
	done       chan struct{} // closed when Run returns

	mu      sync.RWMutex
	clients map[*Client]bool

	subsMu sync.Mutex
	subs   []eventbus.Subscription
}

// NewHub creates a new Hub with initialised channels and client map.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:        log.With("component", "ws"),
		broadcast:  make(chan envelope, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
	}
}

// Attach forwards TickEvent and OrderEvent from bus to the clients.
func (h *Hub) Attach(bus *eventbus.Bus) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()
	h.subs = append(h.subs,
		eventbus.On(bus, func(e domain.TickEvent) {
			bar := toBar(e.Bar)
			h.Broadcast(e.Bar.Symbol, quant.Message{Type: quant.MessageTick, Bar: &bar})
		}),
		eventbus.On(bus, func(e domain.OrderEvent) {
			o := toOrder(e.Order)
			h.Broadcast("", quant.Message{Type: quant.MessageOrder, Order: &o})
		}),
	)
}

func (h *Hub) Detach() {
	h.subsMu.Lock()
	subs := h.subs
	h.subs = nil
	h.subsMu.Unlock()
	for _, s := range subs {
		s.Unsubscribe()
	}
}

// Broadcast queues msg for every client watching symbol. It never blocks the
// publisher: when the queue is full the message is dropped.
func (h *Hub) Broadcast(symbol string, msg quant.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("marshalling message", "error", err)
		return
	}
	select {
	case h.broadcast <- envelope{symbol: symbol, data: data}:
	default:
		h.log.Warn("broadcast queue full, dropping message", "type", msg.Type, "symbol", symbol)
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run starts the Hub's main event loop. It returns when ctx is done, after
// closing every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("client connected", "client", c.id, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
				h.log.Info("client disconnected", "client", c.id, "total", len(h.clients))
			}
			h.mu.Unlock()

		case env := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(env.symbol) {
					continue
				}
				select {
				case c.send <- env.data:
				default:
					// Slow client, disconnect.
					close(c.send)
					delete(h.clients, c)
					h.log.Warn("dropping slow client", "client", c.id)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ServeWS upgrades the request and registers the client. The optional
// symbols query parameter is a comma-separated tick filter.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "error", err)
		return
	}
	c := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		id:      uuid.NewString(),
		symbols: make(map[string]bool),
	}
	if raw := r.URL.Query().Get("symbols"); raw != "" {
		c.apply(quant.StreamRequest{Op: "subscribe", Symbols: strings.Split(raw, ",")})
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// readPump applies subscription requests until the connection fails.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket read", "client", c.id, "error", err)
			}
			return
		}
		var req quant.StreamRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.hub.log.Debug("invalid stream request", "client", c.id, "error", err)
			continue
		}
		if req.Op != "subscribe" && req.Op != "unsubscribe" {
			c.hub.log.Debug("unknown stream op", "client", c.id, "op", req.Op)
			continue
		}
		c.apply(req)
	}
}

// writePump sends queued messages one frame each and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
