package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/metrics"
)

// callTransitions maps a target status to the statuses it may be reached from.
var callTransitions = map[string][]string{
	models.CallStatusRinging:  {models.CallStatusInitiated},
	models.CallStatusAccepted: {models.CallStatusInitiated, models.CallStatusRinging},
	models.CallStatusDeclined: {models.CallStatusInitiated, models.CallStatusRinging},
	models.CallStatusMissed:   {models.CallStatusInitiated, models.CallStatusRinging},
	models.CallStatusEnded:    {models.CallStatusAccepted},
}

var openCallStatuses = []string{models.CallStatusInitiated, models.CallStatusRinging, models.CallStatusAccepted}

// CanTransition reports whether a call may move from one status to another.
func CanTransition(from, to string) bool {
	return containsString(callTransitions[to], from)
}

type callActor int

const (
	actorEither callActor = iota
	actorCaller
	actorCallee
)

// CallService owns call sessions, their state machine and the signaling relay.
type CallService struct {
	base
	conversations *ConversationService
	notifier      Notifier
}

// NewCallService constructs a CallService. notifier may be nil.
func NewCallService(db *gorm.DB, feed realtime.Publisher, conversations *ConversationService, notifier Notifier, opts ...Option) (*CallService, error) {
	if conversations == nil {
		return nil, errors.New("call service: conversation service is required")
	}
	b, err := newBase("call service", db, feed, opts)
	if err != nil {
		return nil, err
	}
	return &CallService{base: b, conversations: conversations, notifier: notifier}, nil
}

// Initiate starts a call from the caller to the other participant of conversationID.
func (s *CallService) Initiate(ctx context.Context, conversationID string) (*models.Call, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.authorize(ctx, conversationID, id.ID)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.ConversationStatusActive {
		return nil, ErrConversationClosed
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	call := models.Call{
		BaseModel:      models.BaseModel{ID: newOrderedID(), CreatedAt: s.clock()},
		ConversationID: conv.ID,
		CallerID:       id.ID,
		CalleeID:       conv.Counterpart(id.ID),
		Status:         models.CallStatusInitiated,
	}
	// The conversation row lock serialises concurrent initiations so at most one call
	// per conversation is open.
	err = s.dbc(ctx).Transaction(func(tx *gorm.DB) error {
		var locked models.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").Take(&locked, "id = ?", conv.ID).Error; err != nil {
			return err
		}
		var open int64
		if err := tx.Model(&models.Call{}).
			Where("conversation_id = ? AND status IN ?", conv.ID, openCallStatuses).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrConflict.WithMessage("a call is already in progress in this conversation")
		}
		return tx.Create(&call).Error
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, storageError("call service: initiate", err)
	}

	metrics.CallTransitions.WithLabelValues(call.Status).Inc()
	s.publishCall(realtime.EventInsert, call)
	if s.notifier != nil {
		s.notifier.NotifyAsync(ctx, NotifyInput{
			UserID:    call.CalleeID,
			Type:      models.NotificationTypeCall,
			Title:     "Incoming call from " + counterpartName(id),
			RelatedID: call.ID,
			Metadata:  map[string]any{"conversation_id": conv.ID},
		})
	}
	return &call, nil
}

// Ring records that the callee's client has been informed.
func (s *CallService) Ring(ctx context.Context, callID string) (*models.Call, error) {
	return s.transition(ctx, callID, models.CallStatusRinging, actorCallee)
}

// Accept answers the call and stamps its start time.
func (s *CallService) Accept(ctx context.Context, callID string) (*models.Call, error) {
	return s.transition(ctx, callID, models.CallStatusAccepted, actorCallee)
}

// Decline rejects the call.
func (s *CallService) Decline(ctx context.Context, callID string) (*models.Call, error) {
	return s.transition(ctx, callID, models.CallStatusDeclined, actorCallee)
}

// Miss marks an unanswered call as missed.
func (s *CallService) Miss(ctx context.Context, callID string) (*models.Call, error) {
	return s.transition(ctx, callID, models.CallStatusMissed, actorEither)
}

// Cancel is the caller hanging up before an answer; the call is recorded as missed.
func (s *CallService) Cancel(ctx context.Context, callID string) (*models.Call, error) {
	return s.transition(ctx, callID, models.CallStatusMissed, actorCaller)
}

// End terminates an accepted call and records its duration.
func (s *CallService) End(ctx context.Context, callID string) (*models.Call, error) {
	return s.transition(ctx, callID, models.CallStatusEnded, actorEither)
}

// Get loads a call the caller takes part in.
func (s *CallService) Get(ctx context.Context, callID string) (*models.Call, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, callID, id.ID)
}

// ListForConversation returns the conversation's calls, newest first.
func (s *CallService) ListForConversation(ctx context.Context, conversationID string) ([]models.Call, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.authorize(ctx, conversationID, id.ID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var calls []models.Call
	if err := s.dbc(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("created_at DESC").Order("id DESC").
		Find(&calls).Error; err != nil {
		return nil, storageError("call service: list", err)
	}
	return calls, nil
}

// SweepUnanswered marks calls still initiated or ringing after olderThan as missed.
func (s *CallService) SweepUnanswered(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, errors.New("call service: sweep age must be positive")
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	sources := callTransitions[models.CallStatusMissed]
	var stale []models.Call
	if err := s.dbc(ctx).
		Where("status IN ? AND created_at < ?", sources, s.clock().Add(-olderThan)).
		Find(&stale).Error; err != nil {
		return 0, storageError("call service: find unanswered", err)
	}

	swept := 0
	for i := range stale {
		updated, ok, err := s.apply(ctx, stale[i], models.CallStatusMissed)
		if err != nil {
			return swept, err
		}
		if ok {
			swept++
			s.afterTransition(ctx, nil, updated)
		}
	}
	if swept > 0 {
		s.log.Info("swept unanswered calls", zap.Int("count", swept))
	}
	return swept, nil
}

// SendSignal relays an SDP offer/answer or ICE candidate to the other participant.
func (s *CallService) SendSignal(ctx context.Context, callID, kind string, payload json.RawMessage) (*models.CallSignal, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind != models.SignalKindOffer && kind != models.SignalKindAnswer && kind != models.SignalKindCandidate {
		return nil, badRequest("signal kind must be offer, answer or candidate")
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return nil, badRequest("signal payload must be valid JSON")
	}

	call, err := s.load(ctx, callID, id.ID)
	if err != nil {
		return nil, err
	}
	if call.IsTerminal() {
		return nil, ErrInvalidCallTransition.WithMessage("call is no longer active")
	}

	recipient := call.CalleeID
	if id.ID == call.CalleeID {
		recipient = call.CallerID
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	signal := models.CallSignal{
		BaseModel:   models.BaseModel{ID: newOrderedID(), CreatedAt: s.clock()},
		CallID:      call.ID,
		SenderID:    id.ID,
		RecipientID: recipient,
		Kind:        kind,
		Payload:     datatypes.JSON(payload),
	}
	if err := s.dbc(ctx).Create(&signal).Error; err != nil {
		return nil, storageError("call service: send signal", err)
	}

	s.publish(realtime.ChangeEvent{
		Table:          realtime.TableCallSignals,
		Type:           realtime.EventInsert,
		ConversationID: call.ConversationID,
		UserIDs:        []string{recipient},
		Record:         signal,
	})
	return &signal, nil
}

// ListSignals returns signals addressed to the caller for callID created after since.
func (s *CallService) ListSignals(ctx context.Context, callID string, since time.Time) ([]models.CallSignal, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	call, err := s.load(ctx, callID, id.ID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := s.dbc(ctx).Where("call_id = ? AND recipient_id = ?", call.ID, id.ID)
	if !since.IsZero() {
		query = query.Where("created_at > ?", since)
	}
	var signals []models.CallSignal
	if err := query.Order("created_at ASC").Order("id ASC").Find(&signals).Error; err != nil {
		return nil, storageError("call service: list signals", err)
	}
	return signals, nil
}

func (s *CallService) transition(ctx context.Context, callID, target string, actor callActor) (*models.Call, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	call, err := s.load(ctx, callID, id.ID)
	if err != nil {
		return nil, err
	}

	switch actor {
	case actorCaller:
		if id.ID != call.CallerID {
			return nil, ErrForbidden.WithMessage("only the caller can do this")
		}
	case actorCallee:
		if id.ID != call.CalleeID {
			return nil, ErrForbidden.WithMessage("only the callee can do this")
		}
	}

	if !CanTransition(call.Status, target) {
		return nil, ErrInvalidCallTransition.WithMessage("call cannot move from " + call.Status + " to " + target)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	updated, ok, err := s.apply(ctx, *call, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCallTransition.WithMessage("call state changed concurrently")
	}
	s.afterTransition(ctx, &id, updated)
	return &updated, nil
}

// apply performs a conditional update so that concurrent transitions cannot both win.
func (s *CallService) apply(ctx context.Context, call models.Call, target string) (models.Call, bool, error) {
	now := s.clock()
	updates := map[string]any{"status": target}
	switch target {
	case models.CallStatusAccepted:
		updates["started_at"] = now
		call.StartedAt = &now
	case models.CallStatusDeclined, models.CallStatusMissed:
		updates["ended_at"] = now
		call.EndedAt = &now
	case models.CallStatusEnded:
		updates["ended_at"] = now
		call.EndedAt = &now
		if call.StartedAt != nil {
			duration := int(now.Sub(*call.StartedAt) / time.Second)
			if duration < 0 {
				duration = 0
			}
			updates["duration_seconds"] = duration
			call.DurationSeconds = duration
		}
	}

	result := s.dbc(ctx).Model(&models.Call{}).
		Where("id = ? AND status IN ?", call.ID, callTransitions[target]).
		Updates(updates)
	if result.Error != nil {
		return call, false, storageError("call service: transition", result.Error)
	}
	if result.RowsAffected == 0 {
		return call, false, nil
	}
	call.Status = target
	call.UpdatedAt = now
	return call, true, nil
}

func (s *CallService) afterTransition(ctx context.Context, actor *auth.Identity, call models.Call) {
	metrics.CallTransitions.WithLabelValues(call.Status).Inc()
	s.publishCall(realtime.EventUpdate, call)

	if call.Status != models.CallStatusMissed || s.notifier == nil {
		return
	}
	caller := auth.Identity{ID: call.CallerID}
	if actor != nil && actor.ID == call.CallerID {
		caller = *actor
	}
	s.notifier.NotifyAsync(ctx, NotifyInput{
		UserID:    call.CalleeID,
		Type:      models.NotificationTypeMissedCall,
		Title:     "Missed call from " + counterpartName(caller),
		RelatedID: call.ID,
		Metadata:  map[string]any{"conversation_id": call.ConversationID},
	})
}

func (s *CallService) load(ctx context.Context, callID, userID string) (*models.Call, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, badRequest("call id is required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var call models.Call
	if err := s.dbc(ctx).Take(&call, "id = ?", callID).Error; err != nil {
		return nil, notFoundOr("call service: load", err)
	}
	if !call.Participant(userID) {
		return nil, ErrForbidden
	}
	return &call, nil
}

func (s *CallService) publishCall(eventType realtime.EventType, call models.Call) {
	s.publish(realtime.ChangeEvent{
		Table:          realtime.TableCalls,
		Type:           eventType,
		ConversationID: call.ConversationID,
		UserIDs:        []string{call.CallerID, call.CalleeID},
		Record:         call,
	})
}
