package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/metrics"
)

const (
	maxMessageLength   = 4000
	maxClientRefLength = 64
	previewLength      = 120
)

// EventMessagesRead names the feed update published by MarkRead.
const EventMessagesRead = "message.read"

// SendMessageInput carries the payload required to post a message.
type SendMessageInput struct {
	ConversationID string
	Content        string
	Kind           string
	// ClientRef is an optional client generated correlation id. Sending the same
	// ref twice returns the stored message instead of inserting a duplicate.
	ClientRef string
}

// ListMessagesInput selects a page of history. A zero Limit returns the full history.
type ListMessagesInput struct {
	Limit  int
	Before string
}

// MessagesRead is the record carried by a message.read event.
type MessagesRead struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	MessageIDs     []string  `json:"message_ids"`
	ReadAt         time.Time `json:"read_at"`
}

// MessageService appends, lists and marks conversation messages.
type MessageService struct {
	base
	conversations *ConversationService
	notifier      Notifier
}

// NewMessageService constructs a MessageService. notifier may be nil.
func NewMessageService(db *gorm.DB, feed realtime.Publisher, conversations *ConversationService, notifier Notifier, opts ...Option) (*MessageService, error) {
	if conversations == nil {
		return nil, errors.New("message service: conversation service is required")
	}
	b, err := newBase("message service", db, feed, opts)
	if err != nil {
		return nil, err
	}
	return &MessageService{base: b, conversations: conversations, notifier: notifier}, nil
}

// Send persists a text message from the caller, bumps the conversation activity,
// publishes the insert and notifies the counterpart. Appointment messages are only
// written by the appointment workflow.
func (s *MessageService) Send(ctx context.Context, input SendMessageInput) (*models.Message, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, badRequest("message content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, badRequest("message content exceeds maximum length")
	}
	kind := strings.ToLower(strings.TrimSpace(input.Kind))
	if kind == "" {
		kind = models.MessageKindText
	}
	if kind != models.MessageKindText {
		return nil, badRequest("unsupported message kind")
	}
	clientRef := strings.TrimSpace(input.ClientRef)
	if len(clientRef) > maxClientRefLength {
		return nil, badRequest("client ref is too long")
	}

	conv, err := s.conversations.authorize(ctx, input.ConversationID, id.ID)
	if err != nil {
		return nil, err
	}
	if conv.Status != models.ConversationStatusActive {
		return nil, ErrConversationClosed
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if clientRef != "" {
		if existing, err := s.findByClientRef(ctx, conv.ID, id.ID, clientRef); err != nil || existing != nil {
			return existing, err
		}
	}

	msg := s.newMessage(conv.ID, id.ID, content, kind, clientRef)
	if err := s.dbc(ctx).Create(&msg).Error; err != nil {
		if clientRef != "" && isUniqueConstraintError(err) {
			if existing, findErr := s.findByClientRef(ctx, conv.ID, id.ID, clientRef); findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, storageError("message service: send", err)
	}

	s.afterAppend(ctx, id, conv, msg)
	return &msg, nil
}

// List returns messages ordered by creation time then id. With a positive limit it
// returns the newest page older than the Before cursor, still in ascending order.
func (s *MessageService) List(ctx context.Context, conversationID string, input ListMessagesInput) ([]models.Message, error) {
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

	var rows []models.Message
	if input.Limit <= 0 {
		if err := s.dbc(ctx).
			Where("conversation_id = ?", conv.ID).
			Order("created_at ASC").Order("id ASC").
			Find(&rows).Error; err != nil {
			return nil, storageError("message service: list", err)
		}
		return rows, nil
	}

	limit := input.Limit
	if limit > 200 {
		limit = 200
	}
	query := s.dbc(ctx).Where("conversation_id = ?", conv.ID)
	if before := strings.TrimSpace(input.Before); before != "" {
		var cursor models.Message
		if err := s.dbc(ctx).Take(&cursor, "id = ? AND conversation_id = ?", before, conv.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, badRequest("unknown message cursor")
			}
			return nil, storageError("message service: load cursor", err)
		}
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, storageError("message service: list page", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

// MarkRead flips the read flag on every message of the conversation the caller did
// not send. It is idempotent and returns the number of messages newly marked.
func (s *MessageService) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return 0, err
	}
	conv, err := s.conversations.authorize(ctx, conversationID, id.ID)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var ids []string
	if err := s.dbc(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND is_read = ?", conv.ID, id.ID, false).
		Order("created_at ASC").Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, storageError("message service: find unread", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	readAt := s.clock()
	result := s.dbc(ctx).Model(&models.Message{}).
		Where("id IN ? AND is_read = ?", ids, false).
		Updates(map[string]any{"is_read": true, "read_at": readAt})
	if result.Error != nil {
		return 0, storageError("message service: mark read", result.Error)
	}

	if result.RowsAffected > 0 {
		s.publish(realtime.ChangeEvent{
			Table:          realtime.TableMessages,
			Type:           realtime.EventUpdate,
			Name:           EventMessagesRead,
			ConversationID: conv.ID,
			UserIDs:        []string{conv.ClientID, conv.TechnicianID},
			Record: MessagesRead{
				ConversationID: conv.ID,
				ReaderID:       id.ID,
				MessageIDs:     ids,
				ReadAt:         readAt,
			},
		})
	}
	return result.RowsAffected, nil
}

// UnreadCount returns the number of unread incoming messages per conversation.
func (s *MessageService) UnreadCount(ctx context.Context) (map[string]int64, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	type row struct {
		ConversationID string
		Unread         int64
	}
	var rows []row
	if err := s.dbc(ctx).Model(&models.Message{}).
		Select("messages.conversation_id AS conversation_id, COUNT(*) AS unread").
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.client_id = ? OR conversations.technician_id = ?) AND messages.sender_id <> ? AND messages.is_read = ?",
			id.ID, id.ID, id.ID, false).
		Group("messages.conversation_id").
		Scan(&rows).Error; err != nil {
		return nil, storageError("message service: unread count", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.ConversationID] = r.Unread
	}
	return counts, nil
}

func (s *MessageService) newMessage(conversationID, senderID, content, kind, clientRef string) models.Message {
	msg := models.Message{
		BaseModel:      models.BaseModel{ID: newOrderedID(), CreatedAt: s.clock()},
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Kind:           kind,
	}
	if clientRef != "" {
		msg.ClientRef = &clientRef
	}
	return msg
}

// appendInTx inserts a system-composed message inside an existing transaction.
func (s *MessageService) appendInTx(tx *gorm.DB, conversationID, senderID, content, kind string) (models.Message, error) {
	msg := s.newMessage(conversationID, senderID, content, kind, "")
	if err := tx.Create(&msg).Error; err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// afterAppend runs the post-commit side effects of a new message. None of them can
// fail the send.
func (s *MessageService) afterAppend(ctx context.Context, sender auth.Identity, conv *models.Conversation, msg models.Message) {
	if err := s.conversations.Touch(ctx, conv.ID, msg.CreatedAt); err != nil {
		s.log.Warn("failed to bump conversation activity",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}

	metrics.MessagesSent.WithLabelValues(msg.Kind).Inc()
	s.publish(realtime.ChangeEvent{
		Table:          realtime.TableMessages,
		Type:           realtime.EventInsert,
		ConversationID: conv.ID,
		UserIDs:        []string{conv.ClientID, conv.TechnicianID},
		Record:         msg,
		At:             msg.CreatedAt,
	})

	if s.notifier == nil || msg.Kind != models.MessageKindText {
		return
	}
	s.notifier.NotifyAsync(ctx, NotifyInput{
		UserID:    conv.Counterpart(sender.ID),
		Type:      models.NotificationTypeMessage,
		Title:     "New message from " + counterpartName(sender),
		Message:   preview(msg.Content),
		RelatedID: conv.ID,
		Metadata:  map[string]any{"message_id": msg.ID, "sender_id": sender.ID},
	})
}

func (s *MessageService) findByClientRef(ctx context.Context, conversationID, senderID, clientRef string) (*models.Message, error) {
	var msg models.Message
	err := s.dbc(ctx).
		Where("conversation_id = ? AND sender_id = ? AND client_ref = ?", conversationID, senderID, clientRef).
		Take(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("message service: find client ref", err)
	}
	return &msg, nil
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLength]) + "…"
}
