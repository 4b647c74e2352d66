package ws

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/whatsapp"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	commandTimeout = 2 * time.Minute
)

// Client is one dashboard connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	userID int64
}

func (c *Client) UserID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

type inbound struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type botCommand struct {
	BotID int64 `mapstructure:"bot_id"`
}

// ServeWS upgrades the request. A token query parameter authenticates the
// socket right away.
func (h *Hub) ServeWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		zap.L().Warn("ws: upgrade failed", zap.Error(err))
		return nil
	}
	client := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return nil
	}

	go client.writePump()
	if token := c.QueryParam("token"); token != "" {
		client.authenticate(token)
	}
	go client.readPump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.L().Debug("ws: read failed", zap.String("session", c.id), zap.Error(err))
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.hub.sendTo(c, "error", map[string]interface{}{"message": "Invalid message format"})
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(msg inbound) {
	switch msg.Event {
	case "authenticate":
		c.authenticate(tokenOf(msg.Data))
	case "ping":
		c.hub.sendTo(c, "pong", map[string]interface{}{"time": time.Now().Unix()})
	case "start_bot", "stop_bot":
		c.botCommand(msg.Event, msg.Data)
	default:
		zap.L().Debug("ws: unknown event", zap.String("event", msg.Event))
	}
}

func tokenOf(data interface{}) string {
	switch v := data.(type) {
	case string:
		return v
	case map[string]interface{}:
		if t, ok := v["token"].(string); ok {
			return t
		}
	}
	return ""
}

func (c *Client) authenticate(token string) {
	var userID int64
	var err error
	if token != "" {
		userID, err = c.hub.auth(token)
	}
	if userID == 0 || err != nil {
		c.hub.sendTo(c, "auth_error", map[string]interface{}{"message": "Invalid token"})
		return
	}
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()

	select {
	case c.hub.join <- joinRequest{client: c, room: RoomOf(userID)}:
	case <-c.hub.done:
		return
	}
	c.hub.sendTo(c, "authenticated", map[string]interface{}{"user_id": idString(userID)})
}

func (c *Client) botCommand(event string, data interface{}) {
	userID := c.UserID()
	if userID == 0 {
		c.hub.sendTo(c, whatsapp.EventBotError, map[string]interface{}{"error": "Authentication required"})
		return
	}
	var cmd botCommand
	if err := decode(data, &cmd); err != nil || cmd.BotID == 0 {
		c.hub.sendTo(c, whatsapp.EventBotError, map[string]interface{}{"error": "bot_id is required"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		var err error
		if event == "start_bot" {
			err = c.hub.bots.Start(ctx, userID, cmd.BotID)
		} else {
			err = c.hub.bots.Stop(ctx, userID, cmd.BotID)
		}
		if err == nil {
			return
		}
		zap.L().Info("ws: bot command failed", zap.String("event", event),
			zap.Int64("bot_id", cmd.BotID), zap.Error(err))
		// failures after the instance exists were already published to the room
		if whatsapp.IsCommandError(err) {
			c.hub.sendTo(c, whatsapp.EventBotError, map[string]interface{}{
				"bot_id": idString(cmd.BotID),
				"error":  err.Error(),
			})
		}
	}()
}

func decode(input interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
