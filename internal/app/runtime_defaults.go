package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/database"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults ensures the token secret is populated even when no configuration
// is supplied. When db is non-nil a generated secret is persisted in system settings so
// tokens survive restarts; an already persisted secret is reused. It returns the keys
// that were filled in so callers can log the event without exposing values.
func ApplyRuntimeDefaults(ctx context.Context, cfg *Config, db *gorm.DB) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	filled := make(map[string]bool)
	if strings.TrimSpace(cfg.Auth.JWT.Secret) != "" {
		return filled, nil
	}

	generate := func() (string, error) { return generateHexKey(jwtSecretBytes) }
	if db == nil {
		secret, err := generate()
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		filled[database.JWTSecretSetting] = true
		return filled, nil
	}

	secret, _, err := database.LoadOrStoreSetting(ctx, db, database.JWTSecretSetting, generate)
	if err != nil {
		return nil, fmt.Errorf("load jwt secret: %w", err)
	}
	cfg.Auth.JWT.Secret = secret
	filled[database.JWTSecretSetting] = true
	return filled, nil
}

func generateHexKey(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
