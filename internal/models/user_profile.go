package models

import "time"

// Profile roles.
const (
	RoleClient     = "client"
	RoleTechnician = "technician"
	RoleAdmin      = "admin"
)

// UserProfile is the public record of a marketplace user. It doubles as the
// presence record: IsOnline and LastSeen are written by the presence tracker.
type UserProfile struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	DisplayName string     `gorm:"type:varchar(255)" json:"display_name"`
	Email       string     `gorm:"type:varchar(255);index" json:"email"`
	Role        string     `gorm:"type:varchar(32);not null;default:'client'" json:"role"`
	IsOnline    bool       `gorm:"default:false;index" json:"is_online"`
	LastSeen    *time.Time `gorm:"index" json:"last_seen"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
