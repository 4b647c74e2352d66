// Package ws pushes bot lifecycle events to dashboard sessions and accepts
// start and stop commands over a websocket.
package ws

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/whatsapp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Frame is the envelope of every message in both directions.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// BotController runs the socket commands.
type BotController interface {
	Start(ctx context.Context, ownerID, botID int64) error
	Stop(ctx context.Context, ownerID, botID int64) error
}

// Authenticator resolves a bearer token to a user id.
type Authenticator func(token string) (int64, error)

type joinRequest struct {
	client *Client
	room   string
}

type roomMessage struct {
	room string
	data []byte
}

type directMessage struct {
	client *Client
	data   []byte
}

// Hub owns every connection. Only the run loop writes to or closes a
// client's send channel.
type Hub struct {
	bots     BotController
	auth     Authenticator
	upgrader websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	join       chan joinRequest
	broadcast  chan roomMessage
	direct     chan directMessage
	done       chan struct{}
	stopOnce   sync.Once

	clients map[*Client]string
	rooms   map[string]map[*Client]bool
}

func NewHub(bots BotController, auth Authenticator, allowedOrigins []string) *Hub {
	return &Hub{
		bots: bots,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		join:       make(chan joinRequest),
		broadcast:  make(chan roomMessage, 256),
		direct:     make(chan directMessage, 256),
		done:       make(chan struct{}),
		clients:    make(map[*Client]string),
		rooms:      make(map[string]map[*Client]bool),
	}
}

// RoomOf names the room of a user's sessions.
func RoomOf(userID int64) string {
	return "user-" + strconv.FormatInt(userID, 10)
}

// Run serves the hub until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer h.stopOnce.Do(func() { close(h.done) })
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = ""
			zap.L().Debug("ws: client connected", zap.String("session", c.id))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				zap.L().Debug("ws: client disconnected", zap.String("session", c.id))
			}
		case req := <-h.join:
			if _, ok := h.clients[req.client]; !ok {
				continue
			}
			h.leave(req.client)
			h.clients[req.client] = req.room
			if h.rooms[req.room] == nil {
				h.rooms[req.room] = make(map[*Client]bool)
			}
			h.rooms[req.room][req.client] = true
		case msg := <-h.broadcast:
			for c := range h.rooms[msg.room] {
				h.push(c, msg.data)
			}
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.push(msg.client, msg.data)
			}
		}
	}
}

// push drops clients that cannot keep up.
func (h *Hub) push(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		zap.L().Warn("ws: dropping slow client", zap.String("session", c.id))
		h.drop(c)
	}
}

func (h *Hub) leave(c *Client) {
	room := h.clients[c]
	if room == "" {
		return
	}
	delete(h.rooms[room], c)
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) drop(c *Client) {
	h.leave(c)
	delete(h.clients, c)
	close(c.send)
}

// Subscribe attaches the hub to bus. Delivery is synchronous so each
// room sees a bot's events in publish order.
func (h *Hub) Subscribe(bus EventBus.Bus) error {
	return bus.Subscribe(whatsapp.EventTopic, h.OnBotEvent)
}

func (h *Hub) Unsubscribe(bus EventBus.Bus) {
	_ = bus.Unsubscribe(whatsapp.EventTopic, h.OnBotEvent)
}

// OnBotEvent forwards a lifecycle event to the owner's room.
func (h *Hub) OnBotEvent(evt whatsapp.BotEvent) {
	data, err := json.Marshal(Frame{Event: evt.Name, Data: evt.Data})
	if err != nil {
		zap.L().Error("ws: encode event failed", zap.String("event", evt.Name), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- roomMessage{room: RoomOf(evt.OwnerID), data: data}:
	case <-h.done:
	}
}

func (h *Hub) sendTo(c *Client, event string, payload interface{}) {
	data, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return
	}
	select {
	case h.direct <- directMessage{client: c, data: data}:
	case <-h.done:
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}
