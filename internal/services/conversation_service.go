package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/metrics"
)

// conversationTransitions maps a target status to the statuses it may be reached from.
var conversationTransitions = map[string][]string{
	models.ConversationStatusActive: {models.ConversationStatusClosed},
	models.ConversationStatusClosed: {models.ConversationStatusActive},
	models.ConversationStatusArchived: {
		models.ConversationStatusActive,
		models.ConversationStatusClosed,
	},
}

// ConversationService owns the client/technician conversation records.
type ConversationService struct {
	base
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, feed realtime.Publisher, opts ...Option) (*ConversationService, error) {
	b, err := newBase("conversation service", db, feed, opts)
	if err != nil {
		return nil, err
	}
	return &ConversationService{base: b}, nil
}

// FindOrCreate returns the canonical conversation between the caller and counterpartID,
// creating it on first contact and reactivating it when it was closed or archived. The
// party whose profile role is technician becomes the technician; otherwise the caller
// is treated as the client.
func (s *ConversationService) FindOrCreate(ctx context.Context, counterpartID string) (*models.Conversation, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, badRequest("counterpart id is required")
	}
	if counterpartID == id.ID {
		return nil, badRequest("cannot open a conversation with yourself")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	clientID, technicianID, err := s.resolveRoles(ctx, id, counterpartID)
	if err != nil {
		return nil, err
	}

	existing, err := s.findPair(ctx, clientID, technicianID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.reopen(ctx, id, existing)
	}

	now := s.clock()
	conv := models.Conversation{
		ClientID:       clientID,
		TechnicianID:   technicianID,
		Status:         models.ConversationStatusActive,
		LastActivityAt: now,
	}
	if err := s.dbc(ctx).Create(&conv).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, storageError("conversation service: create", err)
		}
		// Lost a concurrent insert race; the winner is canonical.
		winner, findErr := s.findPair(ctx, clientID, technicianID)
		if findErr != nil {
			return nil, findErr
		}
		if winner == nil {
			return nil, storageError("conversation service: create", err)
		}
		return winner, nil
	}

	metrics.ConversationsCreated.Inc()
	s.publishConversation(realtime.EventInsert, conv)
	return &conv, nil
}

// reopen makes a closed or archived conversation active again so the pair can resume.
func (s *ConversationService) reopen(ctx context.Context, actor auth.Identity, conv *models.Conversation) (*models.Conversation, error) {
	if conv.Status == models.ConversationStatusActive {
		return conv, nil
	}

	now := s.clock()
	result := s.dbc(ctx).Model(&models.Conversation{}).
		Where("id = ? AND status IN ?", conv.ID, []string{models.ConversationStatusClosed, models.ConversationStatusArchived}).
		Updates(map[string]any{"status": models.ConversationStatusActive, "last_activity_at": now})
	if result.Error != nil {
		return nil, storageError("conversation service: reopen", result.Error)
	}
	if result.RowsAffected == 0 {
		// Reopened concurrently.
		return s.findPair(ctx, conv.ClientID, conv.TechnicianID)
	}

	previous := conv.Status
	conv.Status = models.ConversationStatusActive
	conv.LastActivityAt = now
	s.publishConversation(realtime.EventUpdate, *conv)
	s.log.Info("conversation reopened",
		zap.String("conversation_id", conv.ID),
		zap.String("previous_status", previous),
		zap.String("user_id", actor.ID))
	return conv, nil
}

// ListForCurrentUser returns the caller's conversations, most recent activity first.
func (s *ConversationService) ListForCurrentUser(ctx context.Context) ([]models.Conversation, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []models.Conversation
	if err := s.dbc(ctx).
		Where("client_id = ? OR technician_id = ?", id.ID, id.ID).
		Order("last_activity_at DESC").
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, storageError("conversation service: list", err)
	}
	return rows, nil
}

// Get loads a conversation the caller takes part in.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.authorize(ctx, conversationID, id.ID)
}

// Touch bumps last_activity_at to at. It never moves the timestamp backwards.
func (s *ConversationService) Touch(ctx context.Context, conversationID string, at time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.dbc(ctx).Model(&models.Conversation{}).
		Where("id = ? AND last_activity_at < ?", conversationID, at).
		UpdateColumn("last_activity_at", at).Error; err != nil {
		return storageError("conversation service: touch", err)
	}
	return nil
}

// SetStatus moves a conversation between active, closed and archived. Archived cannot
// be left through SetStatus; FindOrCreate reactivates it.
func (s *ConversationService) SetStatus(ctx context.Context, conversationID, status string) (*models.Conversation, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	sources, ok := conversationTransitions[status]
	if !ok {
		return nil, badRequest("status must be active, closed or archived")
	}

	conv, err := s.authorize(ctx, conversationID, id.ID)
	if err != nil {
		return nil, err
	}
	if conv.Status == status {
		return conv, nil
	}
	if !containsString(sources, conv.Status) {
		return nil, ErrConflict.WithMessage("conversation cannot move from " + conv.Status + " to " + status)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	result := s.dbc(ctx).Model(&models.Conversation{}).
		Where("id = ? AND status IN ?", conv.ID, sources).
		Update("status", status)
	if result.Error != nil {
		return nil, storageError("conversation service: set status", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrConflict.WithMessage("conversation status changed concurrently")
	}

	conv.Status = status
	s.publishConversation(realtime.EventUpdate, *conv)
	s.log.Info("conversation status changed",
		zap.String("conversation_id", conv.ID),
		zap.String("status", status),
		zap.String("user_id", id.ID))
	return conv, nil
}

// authorize loads conversationID and checks that userID is a participant.
func (s *ConversationService) authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, badRequest("conversation id is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var conv models.Conversation
	if err := s.dbc(ctx).Take(&conv, "id = ?", conversationID).Error; err != nil {
		return nil, notFoundOr("conversation service: load", err)
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrForbidden
	}
	return &conv, nil
}

// IsParticipant reports whether userID belongs to conversationID. Unknown conversations report false.
func (s *ConversationService) IsParticipant(ctx context.Context, conversationID, userID string) bool {
	_, err := s.authorize(ctx, conversationID, userID)
	return err == nil
}

func (s *ConversationService) resolveRoles(ctx context.Context, id auth.Identity, counterpartID string) (clientID, technicianID string, err error) {
	var profiles []models.UserProfile
	if err := s.dbc(ctx).Where("id IN ?", []string{id.ID, counterpartID}).Find(&profiles).Error; err != nil {
		return "", "", storageError("conversation service: load profiles", err)
	}

	roles := make(map[string]string, len(profiles))
	for _, profile := range profiles {
		roles[profile.ID] = profile.Role
	}
	if _, ok := roles[counterpartID]; !ok {
		return "", "", ErrNotFound.WithMessage("counterpart not found")
	}

	if roles[counterpartID] == models.RoleTechnician && roles[id.ID] != models.RoleTechnician {
		return id.ID, counterpartID, nil
	}
	if roles[id.ID] == models.RoleTechnician && roles[counterpartID] != models.RoleTechnician {
		return counterpartID, id.ID, nil
	}
	return id.ID, counterpartID, nil
}

func (s *ConversationService) findPair(ctx context.Context, clientID, technicianID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.dbc(ctx).
		Where("(client_id = ? AND technician_id = ?) OR (client_id = ? AND technician_id = ?)",
			clientID, technicianID, technicianID, clientID).
		Take(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("conversation service: find", err)
	}
	return &conv, nil
}

func (s *ConversationService) publishConversation(eventType realtime.EventType, conv models.Conversation) {
	s.publish(realtime.ChangeEvent{
		Table:          realtime.TableConversations,
		Type:           eventType,
		ConversationID: conv.ID,
		UserIDs:        []string{conv.ClientID, conv.TechnicianID},
		Record:         conv,
	})
}
