package domain

import "time"

// Provider selects the adapter implementation backing an instance.
type Provider string

const (
	ProviderNativeFlow Provider = "native_flow"
	ProviderTemplate   Provider = "template"
)

// InstanceStatus is the connection state persisted for an instance.
type InstanceStatus string

const (
	InstanceDisconnected InstanceStatus = "disconnected"
	InstanceConnecting   InstanceStatus = "connecting"
	InstanceQRReady      InstanceStatus = "qr_ready"
	InstanceConnected    InstanceStatus = "connected"
	InstanceClosed       InstanceStatus = "closed"
)

// Instance one configured WhatsApp session.
type Instance struct {
	ID          int64          `json:"id,string" gorm:"primaryKey"`
	Name        string         `json:"name"`
	Provider    Provider       `json:"provider" gorm:"index"`
	Status      InstanceStatus `json:"status" gorm:"index"`
	QRCode      string         `json:"qr_code" gorm:"type:text"` // data:image/png;base64,...
	QRRaw       string         `json:"-" gorm:"type:text"`
	QRExpiresAt *time.Time     `json:"qr_expires_at"`
	SessionRef  string         `json:"-"` // whatsmeow device JID once paired
	Phone       string         `json:"phone"`
	ProfileName string         `json:"profile_name"`
	LastSeenAt  *time.Time     `json:"last_seen_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (Instance) TableName() string {
	return "instances"
}

// QRValid reports whether a QR is stored and has not reached its expiry.
func (i *Instance) QRValid(now time.Time) bool {
	if i.QRCode == "" || i.QRExpiresAt == nil {
		return false
	}
	return now.Before(*i.QRExpiresAt)
}
