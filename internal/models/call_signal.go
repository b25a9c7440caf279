package models

import "gorm.io/datatypes"

// Signal kinds relayed between call peers.
const (
	SignalKindOffer     = "offer"
	SignalKindAnswer    = "answer"
	SignalKindCandidate = "candidate"
)

// CallSignal carries an SDP description or ICE candidate from one peer to the other.
type CallSignal struct {
	BaseModel

	CallID      string         `gorm:"type:uuid;not null;index" json:"call_id"`
	SenderID    string         `gorm:"type:uuid;not null" json:"sender_id"`
	RecipientID string         `gorm:"type:uuid;not null;index" json:"recipient_id"`
	Kind        string         `gorm:"type:varchar(16);not null" json:"kind"`
	Payload     datatypes.JSON `json:"payload"`
}
