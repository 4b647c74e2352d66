package domain

import "time"

const (
	BotStatusDisconnected = "disconnected"
	BotStatusConnecting   = "connecting"
	BotStatusConnected    = "connected"
)

// Bot is the configuration of one tenant WhatsApp account. Jid is filled
// once the device has been paired and is cleared again on logout.
type Bot struct {
	ID             int64             `json:"id,string" gorm:"primaryKey" bson:"_id"`
	OwnerID        int64             `json:"owner_id,string" gorm:"index" bson:"owner_id"`
	Name           string            `json:"name" bson:"name"`
	Description    string            `json:"description" bson:"description"`
	WelcomeMessage string            `json:"welcome_message" bson:"welcome_message"`
	Status         string            `json:"status" gorm:"index;size:32" bson:"status"`
	Jid            string            `json:"jid" bson:"jid"`
	Phone          string            `json:"phone" bson:"phone"`
	LastConnected  *time.Time        `json:"last_connected" bson:"last_connected,omitempty"`
	AutoReplies    map[string]string `json:"auto_replies" gorm:"serializer:json;type:text" bson:"auto_replies"`
	WebhookURL     string            `json:"webhook_url" bson:"webhook_url"`
	AutoStart      bool              `json:"auto_start" bson:"auto_start"`
	CreatedAt      time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" bson:"updated_at"`
}

func (Bot) TableName() string {
	return "wa_bot"
}

// Paired reports whether a device session exists for the bot.
func (b *Bot) Paired() bool {
	return b.Jid != ""
}

// AutoReply is the list form of an auto-reply rule.
type AutoReply struct {
	Trigger  string `json:"trigger" mapstructure:"trigger"`
	Response string `json:"response" mapstructure:"response"`
	IsActive bool   `json:"is_active" mapstructure:"is_active"`
}
