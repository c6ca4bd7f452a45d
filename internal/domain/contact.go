package domain

import "time"

// Contact a remote WhatsApp user known by canonical phone.
type Contact struct {
	ID            int64      `json:"id,string" gorm:"primaryKey"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone" gorm:"uniqueIndex"`
	Address       string     `json:"address" gorm:"index"` // raw provider address, e.g. 5511999999999@s.whatsapp.net
	ProfilePicURL string     `json:"profile_pic_url" gorm:"type:text"`
	LastSeenAt    *time.Time `json:"last_seen_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Contact) TableName() string {
	return "contacts"
}
