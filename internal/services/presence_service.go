package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/metrics"
)

// Presence is the liveness view of a user profile.
type Presence struct {
	UserID      string     `json:"user_id"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	IsOnline    bool       `json:"is_online"`
	LastSeen    *time.Time `json:"last_seen"`
}

// ProfileInput describes the caller's own profile.
type ProfileInput struct {
	DisplayName string
	Role        string
}

// PresenceService owns user profiles and their online/last-seen state.
type PresenceService struct {
	base
}

// NewPresenceService constructs a PresenceService.
func NewPresenceService(db *gorm.DB, feed realtime.Publisher, opts ...Option) (*PresenceService, error) {
	b, err := newBase("presence service", db, feed, opts)
	if err != nil {
		return nil, err
	}
	return &PresenceService{base: b}, nil
}

// SaveProfile creates or updates the caller's profile. created reports a first registration.
func (s *PresenceService) SaveProfile(ctx context.Context, input ProfileInput) (profile *models.UserProfile, created bool, err error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, false, err
	}
	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = models.RoleClient
	}
	if role != models.RoleClient && role != models.RoleTechnician {
		return nil, false, badRequest("role must be client or technician")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, created, err = s.ensureProfile(ctx, id, role); err != nil {
		return nil, false, err
	}

	updates := map[string]any{"role": role}
	if name := strings.TrimSpace(input.DisplayName); name != "" {
		updates["display_name"] = name
	}
	if id.Email != "" {
		updates["email"] = id.Email
	}
	if err := s.dbc(ctx).Model(&models.UserProfile{}).Where("id = ?", id.ID).Updates(updates).Error; err != nil {
		return nil, false, storageError("presence service: save profile", err)
	}

	var stored models.UserProfile
	if err := s.dbc(ctx).Take(&stored, "id = ?", id.ID).Error; err != nil {
		return nil, false, storageError("presence service: load profile", err)
	}
	return &stored, created, nil
}

// Profile loads a user profile.
func (s *PresenceService) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var profile models.UserProfile
	if err := s.dbc(ctx).Take(&profile, "id = ?", strings.TrimSpace(userID)).Error; err != nil {
		return nil, notFoundOr("presence service: load profile", err)
	}
	return &profile, nil
}

// Publish records the caller's liveness at the current time. A write older than the
// stored last_seen is ignored so last_seen never decreases.
func (s *PresenceService) Publish(ctx context.Context, online bool) (*Presence, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, _, err := s.ensureProfile(ctx, id, models.RoleClient); err != nil {
		return nil, err
	}

	seen := s.clock()
	result := s.dbc(ctx).Model(&models.UserProfile{}).
		Where("id = ? AND (last_seen IS NULL OR last_seen <= ?)", id.ID, seen).
		Updates(map[string]any{"is_online": online, "last_seen": seen})
	if result.Error != nil {
		return nil, storageError("presence service: publish", result.Error)
	}

	var profile models.UserProfile
	if err := s.dbc(ctx).Take(&profile, "id = ?", id.ID).Error; err != nil {
		return nil, storageError("presence service: reload", err)
	}
	presence := toPresence(profile)
	if result.RowsAffected > 0 {
		s.publishPresence(presence)
	}
	return &presence, nil
}

// Get returns the presence of userID.
func (s *PresenceService) Get(ctx context.Context, userID string) (*Presence, error) {
	if _, err := currentIdentity(ctx); err != nil {
		return nil, err
	}
	profile, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	presence := toPresence(*profile)
	return &presence, nil
}

// GetMany returns presence for every known id; unknown ids are skipped.
func (s *PresenceService) GetMany(ctx context.Context, userIDs []string) (map[string]Presence, error) {
	if _, err := currentIdentity(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]Presence, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var profiles []models.UserProfile
	if err := s.dbc(ctx).Where("id IN ?", userIDs).Find(&profiles).Error; err != nil {
		return nil, storageError("presence service: get many", err)
	}
	for _, profile := range profiles {
		out[profile.ID] = toPresence(profile)
	}
	return out, nil
}

// ExpireStale marks users offline whose last_seen is older than ttl. It returns the
// number of records flipped.
func (s *PresenceService) ExpireStale(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, errors.New("presence service: ttl must be positive")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	cutoff := s.clock().Add(-ttl)

	var stale []models.UserProfile
	if err := s.dbc(ctx).
		Where("is_online = ? AND (last_seen IS NULL OR last_seen < ?)", true, cutoff).
		Find(&stale).Error; err != nil {
		return 0, storageError("presence service: find stale", err)
	}

	expired := 0
	for _, profile := range stale {
		result := s.dbc(ctx).Model(&models.UserProfile{}).
			Where("id = ? AND is_online = ? AND (last_seen IS NULL OR last_seen < ?)", profile.ID, true, cutoff).
			Update("is_online", false)
		if result.Error != nil {
			return expired, storageError("presence service: expire", result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		expired++
		profile.IsOnline = false
		s.publishPresence(toPresence(profile))
	}

	if expired > 0 {
		metrics.PresenceExpired.Add(float64(expired))
		s.log.Info("expired stale presence", zap.Int("count", expired), zap.Duration("ttl", ttl))
	}
	return expired, nil
}

func (s *PresenceService) ensureProfile(ctx context.Context, id auth.Identity, role string) (*models.UserProfile, bool, error) {
	profile := models.UserProfile{
		ID:          id.ID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		Role:        role,
	}
	result := s.dbc(ctx).Where(models.UserProfile{ID: id.ID}).Attrs(profile).FirstOrCreate(&profile)
	if result.Error != nil && isUniqueConstraintError(result.Error) {
		if err := s.dbc(ctx).Take(&profile, "id = ?", id.ID).Error; err != nil {
			return nil, false, storageError("presence service: reload profile", err)
		}
		return &profile, false, nil
	}
	if result.Error != nil {
		return nil, false, storageError("presence service: ensure profile", result.Error)
	}
	return &profile, result.RowsAffected > 0, nil
}

func (s *PresenceService) publishPresence(presence Presence) {
	s.publish(realtime.ChangeEvent{
		Table:   realtime.TableUserProfiles,
		Type:    realtime.EventUpdate,
		UserIDs: []string{presence.UserID},
		Record:  presence,
	})
}

func toPresence(profile models.UserProfile) Presence {
	return Presence{
		UserID:      profile.ID,
		DisplayName: profile.DisplayName,
		Role:        profile.Role,
		IsOnline:    profile.IsOnline,
		LastSeen:    profile.LastSeen,
	}
}

// DescribePresence renders a human readable status for p relative to now.
func DescribePresence(p Presence, now time.Time) string {
	if p.IsOnline {
		return "online"
	}
	if p.LastSeen == nil || p.LastSeen.IsZero() {
		return "offline"
	}

	elapsed := now.Sub(*p.LastSeen)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%d min ago", int(elapsed/time.Minute))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(elapsed/time.Hour))
	default:
		return p.LastSeen.In(now.Location()).Format("02/01/2006 15:04")
	}
}
