package notify

import "time"

type QRPayload struct {
	InstanceID int64     `json:"instance_id,string"`
	QRCode     string    `json:"qr_code"`
	Raw        string    `json:"-"` // pairing code the image encodes
	ExpiresAt  time.Time `json:"expires_at"`
}

type InstancePayload struct {
	InstanceID  int64  `json:"instance_id,string"`
	Status      string `json:"status"`
	Phone       string `json:"phone,omitempty"`
	ProfileName string `json:"profile_name,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type TicketPayload struct {
	InstanceID int64  `json:"instance_id,string"`
	TicketID   int64  `json:"ticket_id,string"`
	ContactID  int64  `json:"contact_id,string"`
	Status     string `json:"status"`
}

// MessagePayload is the minimal rendering payload of a persisted message.
type MessagePayload struct {
	InstanceID        int64     `json:"instance_id,string"`
	TicketID          int64     `json:"ticket_id,string"`
	ContactID         int64     `json:"contact_id,string"`
	MessageID         int64     `json:"message_id,string"`
	ProviderMessageID string    `json:"provider_message_id"`
	Type              string    `json:"type"`
	Content           string    `json:"content"`
	MediaURL          string    `json:"media_url"`
	Direction         string    `json:"direction"`
	Timestamp         time.Time `json:"timestamp"`
}

type MessageStatusPayload struct {
	InstanceID        int64  `json:"instance_id,string"`
	MessageID         int64  `json:"message_id,string"`
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
}
