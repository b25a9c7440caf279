package models

import (
	"time"

	"gorm.io/datatypes"
)

// Notification types raised by the conversation core.
const (
	NotificationTypeMessage     = "message"
	NotificationTypeCall        = "call"
	NotificationTypeMissedCall  = "missed_call"
	NotificationTypeRequest     = "request"
	NotificationTypeAppointment = "appointment"
	NotificationTypeWelcome     = "welcome"
)

// Notification represents an in-app notification for a user.
type Notification struct {
	BaseModel

	UserID    string         `gorm:"type:uuid;index" json:"user_id"`
	Type      string         `gorm:"type:varchar(64);not null" json:"type"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title"`
	Message   string         `gorm:"type:text" json:"message"`
	RelatedID string         `gorm:"type:varchar(64);index" json:"related_id,omitempty"`
	Metadata  datatypes.JSON `json:"metadata"`

	IsRead bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt *time.Time `json:"read_at"`
}
