package models

import "time"

// Call statuses.
const (
	CallStatusInitiated = "initiated"
	CallStatusRinging   = "ringing"
	CallStatusAccepted  = "accepted"
	CallStatusDeclined  = "declined"
	CallStatusMissed    = "missed"
	CallStatusEnded     = "ended"
)

// Call is one voice-call attempt inside a conversation.
type Call struct {
	BaseModel

	ConversationID  string     `gorm:"type:uuid;not null;index" json:"conversation_id"`
	CallerID        string     `gorm:"type:uuid;not null;index" json:"caller_id"`
	CalleeID        string     `gorm:"type:uuid;not null;index" json:"callee_id"`
	Status          string     `gorm:"type:varchar(32);not null;index" json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `gorm:"default:0" json:"duration_seconds"`
}

// IsTerminal reports whether the call can no longer change state.
func (c Call) IsTerminal() bool {
	switch c.Status {
	case CallStatusDeclined, CallStatusMissed, CallStatusEnded:
		return true
	}
	return false
}

// Participant reports whether userID is the caller or the callee.
func (c Call) Participant(userID string) bool {
	return userID != "" && (c.CallerID == userID || c.CalleeID == userID)
}
