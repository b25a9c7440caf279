package models

import "time"

// Appointment statuses.
const (
	AppointmentStatusPending   = "pending"
	AppointmentStatusAccepted  = "accepted"
	AppointmentStatusDeclined  = "declined"
	AppointmentStatusCompleted = "completed"
	AppointmentStatusCancelled = "cancelled"
)

// Appointment is an intervention request raised by a client inside a conversation.
type Appointment struct {
	BaseModel

	ConversationID   string    `gorm:"type:uuid;not null;index" json:"conversation_id"`
	ClientID         string    `gorm:"type:uuid;not null;index" json:"client_id"`
	TechnicianID     string    `gorm:"type:uuid;not null;index" json:"technician_id"`
	ProposedDate     time.Time `json:"proposed_date"`
	Description      string    `gorm:"type:text" json:"description"`
	Status           string    `gorm:"type:varchar(32);not null;default:'pending';index" json:"status"`
	RequestMessageID string    `gorm:"type:uuid" json:"request_message_id"`
}
