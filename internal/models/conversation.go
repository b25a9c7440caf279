package models

import "time"

// Conversation statuses.
const (
	ConversationStatusActive   = "active"
	ConversationStatusClosed   = "closed"
	ConversationStatusArchived = "archived"
)

// Conversation is the canonical thread between one client and one technician.
type Conversation struct {
	BaseModel

	ClientID       string    `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_pair" json:"client_id"`
	TechnicianID   string    `gorm:"type:uuid;not null;uniqueIndex:idx_conversation_pair;index" json:"technician_id"`
	Status         string    `gorm:"type:varchar(32);not null;default:'active'" json:"status"`
	LastActivityAt time.Time `gorm:"index" json:"last_activity_at"`
}

// HasParticipant reports whether userID is one of the two parties.
func (c Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.ClientID == userID || c.TechnicianID == userID)
}

// Counterpart returns the other party for userID.
func (c Conversation) Counterpart(userID string) string {
	if c.ClientID == userID {
		return c.TechnicianID
	}
	return c.ClientID
}
