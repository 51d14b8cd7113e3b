package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channel is the Redis pub/sub channel carrying live ticket events.
const Channel = "events"

// Event represents a message broadcast to subscribers.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// adminOnly lists event types never delivered to non-admin subscribers.
var adminOnly = map[string]bool{
	"internal_comment_added": true,
}

// Visible reports whether a subscriber may receive an event of type typ.
func Visible(typ string, isAdmin bool) bool { return isAdmin || !adminOnly[typ] }

var wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "ws_clients",
	Help: "Number of connected WebSocket clients",
})

func init() { prometheus.MustRegister(wsClients) }

// PublishEvent sends an event to the Redis events channel.
func PublishEvent(ctx context.Context, rdb *redis.Client, ev Event) {
	if rdb == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("type", ev.Type).Msg("encode event")
		return
	}
	if err := rdb.Publish(ctx, Channel, b).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("type", ev.Type).Msg("publish event")
	}
}

// Publisher delivers lifecycle events through Redis so every API replica's
// hub sees them.
type Publisher struct {
	RDB *redis.Client
}

func (p Publisher) Publish(ctx context.Context, typ string, data any) {
	PublishEvent(ctx, p.RDB, Event{Type: typ, Data: data})
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	rdb        *redis.Client
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]bool
	broadcast  chan Event
}

// NewHub constructs a Hub. rdb may be nil to disable cross-process broadcasting.
func NewHub(rdb *redis.Client) *Hub {
	return &Hub{
		rdb:        rdb,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 16),
	}
}

// Run starts the hub loop, optionally subscribing to Redis events.
func (h *Hub) Run(ctx context.Context) {
	var ch <-chan *redis.Message
	if h.rdb != nil {
		sub := h.rdb.Subscribe(ctx, Channel)
		ch = sub.Channel()
		go func() {
			<-ctx.Done()
			_ = sub.Close()
		}()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if ok && msg != nil {
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
					h.fanout(ev)
				}
			}
		case c := <-h.register:
			h.clients[c] = true
			wsClients.Inc()
		case c := <-h.unregister:
			h.drop(c)
		case ev := <-h.broadcast:
			h.fanout(ev)
		}
	}
}

func (h *Hub) fanout(ev Event) {
	for c := range h.clients {
		if !Visible(ev.Type, c.isAdmin) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		wsClients.Dec()
	}
}

// Broadcast enqueues an event for all clients.
func (h *Hub) Broadcast(ev Event) { h.broadcast <- ev }

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) { h.register <- c }

// Client represents a WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan Event
	isAdmin bool
}

// NewClient constructs a client.
func NewClient(h *Hub, conn *websocket.Conn, isAdmin bool) *Client {
	return &Client{hub: h, conn: conn, send: make(chan Event, 8), isAdmin: isAdmin}
}

// ReadPump reads messages from the WebSocket to detect disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump writes events to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	defer func() { _ = c.conn.Close() }()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.send:
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// Websocket upgrader with permissive CORS (expected to be protected by middleware).
var Upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Serve upgrades the request and attaches the connection to h. isAdmin
// decides which event types the client receives.
func Serve(h *Hub, isAdmin func(*gin.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Ctx(c.Request.Context()).Warn().Err(err).Msg("ws upgrade")
			return
		}
		cl := NewClient(h, conn, isAdmin(c))
		h.Register(cl)
		go cl.WritePump(context.WithoutCancel(c.Request.Context()))
		cl.ReadPump()
	}
}
