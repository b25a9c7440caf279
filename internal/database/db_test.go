package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Exec("SELECT 1").Error)
}

func TestOpenAppliesPoolLimits(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: MemoryDSN(uuid.NewString()), MaxOpenConns: 3})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.Equal(t, 3, sqlDB.Stats().MaxOpenConnections)
}

func TestAutoMigrateAndSeedNormalisesLegacyRows(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))

	profile := models.UserProfile{ID: uuid.NewString()}
	require.NoError(t, db.Create(&profile).Error)
	require.NoError(t, db.Model(&models.UserProfile{}).Where("id = ?", profile.ID).UpdateColumn("role", "").Error)

	require.NoError(t, AutoMigrateAndSeed(db))

	var stored models.UserProfile
	require.NoError(t, db.Take(&stored, "id = ?", profile.ID).Error)
	require.Equal(t, models.RoleClient, stored.Role)
}

func TestAutoMigrateAndSeedRejectsNilHandle(t *testing.T) {
	require.Error(t, AutoMigrateAndSeed(nil))
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", DSN: MemoryDSN(uuid.NewString()), MaxOpenConns: 1})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
