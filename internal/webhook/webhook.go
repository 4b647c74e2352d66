// Package webhook forwards new messages to the URL configured on each bot.
package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/guonaihong/gout"
	"go.uber.org/zap"

	"github.com/talkincode/wabot/internal/app"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/whatsapp"
)

const defaultTimeout = 10 * time.Second

type Payload struct {
	Event   string          `json:"event"`
	BotID   int64           `json:"bot_id,string"`
	Message *domain.Message `json:"message"`
}

// Dispatcher posts new_message events asynchronously, so a slow endpoint
// never holds up message handling.
type Dispatcher struct {
	app     app.AppContext
	timeout time.Duration
}

func NewDispatcher(a app.AppContext) *Dispatcher {
	return &Dispatcher{app: a, timeout: defaultTimeout}
}

func (d *Dispatcher) Subscribe() error {
	return d.app.Bus().SubscribeAsync(whatsapp.EventTopic, d.handle, false)
}

func (d *Dispatcher) Unsubscribe() {
	_ = d.app.Bus().Unsubscribe(whatsapp.EventTopic, d.handle)
}

func (d *Dispatcher) handle(evt whatsapp.BotEvent) {
	msg, ok := evt.Message()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	bot, err := d.app.Store().Bots.GetByID(ctx, evt.BotID)
	if err != nil || bot.WebhookURL == "" {
		return
	}
	payload := Payload{Event: whatsapp.EventNewMessage, BotID: evt.BotID, Message: msg}
	if err := d.Send(bot.WebhookURL, payload); err != nil {
		zap.L().Warn("webhook: delivery failed",
			zap.Int64("bot_id", evt.BotID), zap.String("url", bot.WebhookURL), zap.Error(err))
	}
}

// Send posts payload as JSON. Any non 2xx answer is an error.
func (d *Dispatcher) Send(url string, payload Payload) error {
	var code int
	err := gout.POST(url).
		SetTimeout(d.timeout).
		SetHeader(gout.H{"User-Agent": "wabot-webhook/1.0"}).
		SetJSON(payload).
		Code(&code).
		Do()
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook answered with status %d", code)
	}
	return nil
}
