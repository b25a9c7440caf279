package models

import "time"

// Message kinds.
const (
	MessageKindText                = "text"
	MessageKindAppointmentRequest  = "appointment_request"
	MessageKindAppointmentResponse = "appointment_response"
)

// Message is an immutable chat entry; only the read flag changes after insert.
type Message struct {
	BaseModel

	ConversationID string     `gorm:"type:uuid;not null;index:idx_message_order,priority:1;uniqueIndex:idx_message_client_ref,priority:1" json:"conversation_id"`
	SenderID       string     `gorm:"type:uuid;not null;index;uniqueIndex:idx_message_client_ref,priority:2" json:"sender_id"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	Kind           string     `gorm:"type:varchar(32);not null;default:'text'" json:"kind"`
	ClientRef      *string    `gorm:"type:varchar(64);uniqueIndex:idx_message_client_ref,priority:3" json:"client_ref,omitempty"`
	IsRead         bool       `gorm:"default:false;index" json:"is_read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}
