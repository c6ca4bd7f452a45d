package domain

import "time"

// InstanceLog Audit trail for instance lifecycle actions
type InstanceLog struct {
	ID         int64     `json:"id,string" gorm:"primaryKey"`
	InstanceID int64     `json:"instance_id,string" gorm:"index"`
	Action     string    `json:"action"` // "connect", "qr", "connected", "closed", "reconnect", "logout", "disconnect"
	Status     string    `json:"status"` // resulting instance status
	Reason     string    `json:"reason"` // disconnect reason or error message
	CreatedAt  time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name
func (InstanceLog) TableName() string {
	return "instance_log"
}
