package whatsapp

import (
	"strconv"

	"github.com/asaskevich/EventBus"

	"github.com/talkincode/wabot/internal/domain"
)

// EventTopic is the bus topic every lifecycle event is published on.
const EventTopic = "whatsapp:bot_event"

const (
	EventBotStarting = "bot_starting"
	EventBotQR       = "bot_qr"
	EventBotStatus   = "bot_status"
	EventBotError    = "bot_error"
	EventNewMessage  = "new_message"
)

// BotEvent is addressed to the dashboard sessions of OwnerID.
type BotEvent struct {
	OwnerID int64
	BotID   int64
	Name    string
	Data    map[string]interface{}
}

// Message returns the stored message of a new_message event.
func (e BotEvent) Message() (*domain.Message, bool) {
	if e.Name != EventNewMessage {
		return nil, false
	}
	m, ok := e.Data["message"].(*domain.Message)
	return m, ok
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func publish(bus EventBus.Bus, evt BotEvent) {
	if bus == nil {
		return
	}
	if evt.Data == nil {
		evt.Data = map[string]interface{}{}
	}
	evt.Data["bot_id"] = idString(evt.BotID)
	bus.Publish(EventTopic, evt)
}
