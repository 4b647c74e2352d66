package whatsapp

import (
	"context"
	"encoding/base64"
	"os"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/patrickmn/go-cache"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/pkg/metrics"
)

func qrKey(botID int64) string {
	return "qr:" + idString(botID)
}

// qrDataURL renders code as a PNG data URL for the dashboard.
func qrDataURL(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (m *Manager) watchQR(ctx context.Context, inst *instance, ch <-chan whatsmeow.QRChannelItem) {
	var expired <-chan time.Time
	if timeout := m.cfg().QRTimeout; timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-expired:
			zap.L().Info("whatsapp: pairing timed out", zap.Int64("bot_id", inst.botID))
			m.teardown(inst, "QR code expired", closeKeep)
			return
		case item, ok := <-ch:
			if !ok {
				return
			}
			switch item.Event {
			case whatsmeow.QRChannelEventCode:
				m.publishQR(inst, item)
			case whatsmeow.QRChannelSuccess.Event:
				m.qrCodes.Delete(qrKey(inst.botID))
				return
			case whatsmeow.QRChannelTimeout.Event:
				m.teardown(inst, "QR code expired", closeKeep)
				return
			default:
				reason := item.Event
				if item.Error != nil {
					reason = item.Error.Error()
				}
				m.teardown(inst, reason, closeKeep)
				return
			}
		}
	}
}

func (m *Manager) publishQR(inst *instance, item whatsmeow.QRChannelItem) {
	if !m.isCurrent(inst) {
		return
	}
	dataURL, err := qrDataURL(item.Code)
	if err != nil {
		zap.L().Error("whatsapp: render qr code failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
		return
	}
	ttl := item.Timeout
	if ttl <= 0 {
		ttl = cache.DefaultExpiration
	}
	m.qrCodes.Set(qrKey(inst.botID), dataURL, ttl)
	if m.cfg().PrintQR {
		qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
	}
	m.emit(inst, EventBotQR, map[string]interface{}{"qr": dataURL})
}

func (m *Manager) handleEvent(inst *instance, evt interface{}) {
	if !m.isCurrent(inst) {
		return
	}
	switch e := evt.(type) {
	case *events.PairSuccess:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store().Bots.UpdateJid(ctx, inst.botID, e.ID.String(), e.ID.User); err != nil {
			zap.L().Error("whatsapp: persist paired jid failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
		}
		zap.L().Info("whatsapp: bot paired", zap.Int64("bot_id", inst.botID), zap.String("jid", e.ID.String()))
	case *events.Connected:
		inst.failures.Store(0)
		m.qrCodes.Delete(qrKey(inst.botID))
		now := time.Now()
		m.setStatus(inst.botID, domain.BotStatusConnected, &now)
		m.emitStatus(inst, domain.BotStatusConnected)
		zap.L().Info("whatsapp: bot connected", zap.Int64("bot_id", inst.botID))
	case *events.Disconnected:
		m.setStatus(inst.botID, domain.BotStatusConnecting, nil)
		m.emitStatus(inst, domain.BotStatusConnecting)
		zap.L().Warn("whatsapp: bot disconnected, waiting for reconnect", zap.Int64("bot_id", inst.botID))
	case *events.LoggedOut:
		zap.L().Warn("whatsapp: bot logged out", zap.Int64("bot_id", inst.botID), zap.String("reason", e.Reason.String()))
		go m.teardown(inst, "logged out", closeForget)
	case *events.StreamReplaced:
		go m.teardown(inst, "session replaced by another client", closeKeep)
	case *events.Message:
		m.handleMessage(inst, e)
	}
}

// handleMessage records an incoming message, then answers it when its text
// matches an auto-reply trigger.
func (m *Manager) handleMessage(inst *instance, e *events.Message) {
	if e.Info.IsFromMe || e.Info.Chat.Server == types.BroadcastServer {
		return
	}
	cli := m.clientOf(inst)
	if cli == nil {
		return
	}
	metrics.Incr("wabot_messages_received")

	body := messageText(e.Message)
	kind := mediaKind(e.Message)
	own := cli.OwnJID()
	m.record(inst, &domain.Message{
		BotID:      inst.botID,
		Direction:  domain.DirectionIncoming,
		FromNumber: e.Info.Sender.ToNonAD().User,
		ToNumber:   own.User,
		Body:       body,
		HasMedia:   kind != "",
		MediaType:  kind,
		WhatsappID: e.Info.ID,
		Timestamp:  e.Info.Timestamp,
	})

	response, ok := inst.reply(body)
	if !ok {
		return
	}
	reply := &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text: proto.String(response),
			ContextInfo: &waE2E.ContextInfo{
				StanzaID:      proto.String(e.Info.ID),
				Participant:   proto.String(e.Info.Sender.String()),
				QuotedMessage: e.Message,
			},
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resp, err := cli.SendMessage(ctx, e.Info.Chat, reply)
	if err != nil {
		zap.L().Error("whatsapp: send auto reply failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
		return
	}
	metrics.Incr("wabot_messages_sent")
	m.record(inst, &domain.Message{
		BotID:      inst.botID,
		Direction:  domain.DirectionOutgoing,
		FromNumber: own.User,
		ToNumber:   e.Info.Chat.User,
		Body:       response,
		WhatsappID: resp.ID,
		Timestamp:  resp.Timestamp,
	})
}

// record persists msg and publishes it. Store failures are logged only.
func (m *Manager) record(inst *instance, msg *domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store().Messages.Create(ctx, msg); err != nil {
		zap.L().Error("whatsapp: save message failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
		return
	}
	m.emit(inst, EventNewMessage, map[string]interface{}{"message": msg})
}
