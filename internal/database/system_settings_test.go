package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetAndUpsertSystemSetting(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	value, err := GetSystemSetting(ctx, db, "missing")
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, UpsertSystemSetting(ctx, db, "sample", "value1"))
	require.NoError(t, UpsertSystemSetting(ctx, db, "sample", "value2"))

	value, err = GetSystemSetting(ctx, db, "sample")
	require.NoError(t, err)
	require.Equal(t, "value2", value)

	require.Error(t, UpsertSystemSetting(ctx, db, "  ", "x"))
}

func TestLoadOrStoreSetting(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	calls := 0
	generate := func() (string, error) {
		calls++
		return "generated-secret", nil
	}

	value, stored, err := LoadOrStoreSetting(ctx, db, JWTSecretSetting, generate)
	require.NoError(t, err)
	require.True(t, stored)
	require.Equal(t, "generated-secret", value)

	value, stored, err = LoadOrStoreSetting(ctx, db, JWTSecretSetting, generate)
	require.NoError(t, err)
	require.False(t, stored)
	require.Equal(t, "generated-secret", value)
	require.Equal(t, 1, calls)

	_, _, err = LoadOrStoreSetting(ctx, db, "other", func() (string, error) {
		return "", errors.New("no entropy")
	})
	require.ErrorContains(t, err, "no entropy")
}

func TestGetSystemSettingRequiresDB(t *testing.T) {
	_, err := GetSystemSetting(context.Background(), nil, "key")
	require.Error(t, err)
}
