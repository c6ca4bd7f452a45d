package domain

import "time"

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageDocument    MessageType = "document"
	MessageSticker     MessageType = "sticker"
	MessageLocation    MessageType = "location"
	MessageButtons     MessageType = "buttons"
	MessageList        MessageType = "list"
	MessageCarousel    MessageType = "carousel"
	MessagePoll        MessageType = "poll"
	MessageUnsupported MessageType = "unsupported"
)

// IsMedia reports types whose payload is materialized to media storage.
func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageDocument, MessageSticker:
		return true
	}
	return false
}

// Message immutable except Status, which only moves forward.
type Message struct {
	ID                int64         `json:"id,string" gorm:"primaryKey"`
	TicketID          int64         `json:"ticket_id,string" gorm:"index"`
	ContactID         int64         `json:"contact_id,string" gorm:"index"`
	InstanceID        int64         `json:"instance_id,string" gorm:"uniqueIndex:idx_message_provider_id"`
	ProviderMessageID string        `json:"provider_message_id" gorm:"uniqueIndex:idx_message_provider_id"`
	Direction         Direction     `json:"direction"`
	Type              MessageType   `json:"type"`
	Body              string        `json:"body" gorm:"type:text"`
	MediaURL          string        `json:"media_url"`
	MediaMime         string        `json:"media_mime"`
	Status            MessageStatus `json:"status" gorm:"index"`
	Timestamp         time.Time     `json:"timestamp" gorm:"index"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}
