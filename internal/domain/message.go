package domain

import "time"

const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

type Message struct {
	ID         int64     `json:"id,string" gorm:"primaryKey" bson:"_id" csv:"id"`
	BotID      int64     `json:"bot_id,string" gorm:"index" bson:"bot_id" csv:"bot_id"`
	Direction  string    `json:"direction" gorm:"size:16" bson:"direction" csv:"direction"`
	FromNumber string    `json:"from_number" gorm:"index;size:128" bson:"from_number" csv:"from"`
	ToNumber   string    `json:"to_number" gorm:"index;size:128" bson:"to_number" csv:"to"`
	Body       string    `json:"body" gorm:"type:text" bson:"body" csv:"body"`
	HasMedia   bool      `json:"has_media" bson:"has_media" csv:"has_media"`
	MediaType  string    `json:"media_type" bson:"media_type" csv:"media_type"`
	MediaURL   string    `json:"media_url" bson:"media_url" csv:"media_url"`
	WhatsappID string    `json:"whatsapp_id" gorm:"size:128" bson:"whatsapp_id" csv:"whatsapp_id"`
	Timestamp  time.Time `json:"timestamp" gorm:"index" bson:"timestamp" csv:"timestamp"`
}

func (Message) TableName() string {
	return "wa_message"
}

// MessageFilter selects a page of history, newest first.
type MessageFilter struct {
	BotID   int64
	Contact string
	Before  *time.Time
	Limit   int
	Offset  int
}
