package domain

import "time"

type TicketStatus string

const (
	TicketOpen    TicketStatus = "open"
	TicketPending TicketStatus = "pending"
	TicketClosed  TicketStatus = "closed"
)

// Ticket the conversation thread between one contact and one instance.
// At most one non-closed ticket exists per (contact, instance).
type Ticket struct {
	ID            int64        `json:"id,string" gorm:"primaryKey"`
	ContactID     int64        `json:"contact_id,string" gorm:"index"`
	InstanceID    int64        `json:"instance_id,string" gorm:"index"`
	Status        TicketStatus `json:"status" gorm:"index"`
	LastMessageAt *time.Time   `json:"last_message_at"`
	ClosedAt      *time.Time   `json:"closed_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Ticket) TableName() string {
	return "tickets"
}

func (t *Ticket) Active() bool {
	return t.Status != TicketClosed
}
