package database

import (
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.UserProfile{},
		&models.Conversation{},
		&models.Message{},
		&models.Call{},
		&models.CallSignal{},
		&models.Appointment{},
		&models.Notification{},
		&models.SystemSetting{},
	); err != nil {
		return err
	}
	return backfillConversationActivity(db)
}

// SeedData normalises rows written before the current schema defaults existed.
func SeedData(db *gorm.DB) error {
	if err := db.Model(&models.Conversation{}).
		Where("status IS NULL OR status = ''").
		Update("status", models.ConversationStatusActive).Error; err != nil {
		return err
	}
	if err := db.Model(&models.UserProfile{}).
		Where("role IS NULL OR role = ''").
		Update("role", models.RoleClient).Error; err != nil {
		return err
	}
	return db.Model(&models.Message{}).
		Where("kind IS NULL OR kind = ''").
		Update("kind", models.MessageKindText).Error
}

// backfillConversationActivity sets last_activity_at from the newest message, or the
// creation time, for conversations imported without it.
func backfillConversationActivity(db *gorm.DB) error {
	type staleConversation struct {
		ID        string
		CreatedAt time.Time
	}

	var stale []staleConversation
	if err := db.Model(&models.Conversation{}).
		Select("id", "created_at").
		Where("last_activity_at IS NULL OR last_activity_at < ?", time.Date(2, time.January, 1, 0, 0, 0, 0, time.UTC)).
		Scan(&stale).Error; err != nil {
		return err
	}

	for _, conv := range stale {
		activity := conv.CreatedAt
		var latest models.Message
		err := db.Where("conversation_id = ?", conv.ID).
			Order("created_at DESC").
			Limit(1).
			Find(&latest).Error
		if err != nil {
			return err
		}
		if latest.ID != "" && latest.CreatedAt.After(activity) {
			activity = latest.CreatedAt
		}
		if err := db.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			UpdateColumn("last_activity_at", activity).Error; err != nil {
			return err
		}
	}
	return nil
}
