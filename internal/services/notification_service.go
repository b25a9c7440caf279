package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/mail"
	"github.com/charlesng35/fixhub/pkg/metrics"
)

// NotificationDTO represents the API-friendly notification payload.
type NotificationDTO struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	RelatedID string         `json:"related_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

// NotifyInput defines attributes required to persist a notification.
type NotifyInput struct {
	UserID    string
	Type      string
	Title     string
	Message   string
	RelatedID string
	Metadata  map[string]any
}

// ListNotificationsInput defines filters for the caller's notifications.
type ListNotificationsInput struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// Notifier is the best-effort relay used by the conversation services.
type Notifier interface {
	NotifyAsync(ctx context.Context, input NotifyInput)
}

// NotificationService persists in-app notifications and sends account emails.
// Delivery failures are logged and never returned to the triggering flow.
type NotificationService struct {
	base
	mailer   mail.Mailer
	from     string
	appURL   string
	inflight sync.WaitGroup
}

// MailSender identifies outgoing account emails.
type MailSender struct {
	From   string
	AppURL string
}

// NewNotificationService constructs a NotificationService. mailer may be nil.
func NewNotificationService(db *gorm.DB, feed realtime.Publisher, mailer mail.Mailer, sender MailSender, opts ...Option) (*NotificationService, error) {
	b, err := newBase("notification service", db, feed, opts)
	if err != nil {
		return nil, err
	}
	return &NotificationService{
		base:   b,
		mailer: mailer,
		from:   strings.TrimSpace(sender.From),
		appURL: strings.TrimRight(strings.TrimSpace(sender.AppURL), "/"),
	}, nil
}

// Create persists a notification and publishes it to the recipient.
func (s *NotificationService) Create(ctx context.Context, input NotifyInput) (*NotificationDTO, error) {
	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, badRequest("notification user id is required")
	}
	notificationType := strings.TrimSpace(input.Type)
	if notificationType == "" {
		return nil, badRequest("notification type is required")
	}

	notification := models.Notification{
		UserID:    userID,
		Type:      notificationType,
		Title:     strings.TrimSpace(input.Title),
		Message:   strings.TrimSpace(input.Message),
		RelatedID: strings.TrimSpace(input.RelatedID),
	}
	if input.Metadata != nil {
		data, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("notification service: marshal metadata: %w", err)
		}
		notification.Metadata = datatypes.JSON(data)
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.dbc(ctx).Create(&notification).Error; err != nil {
		return nil, storageError("notification service: create notification", err)
	}

	dto := mapNotification(notification)
	s.broadcast(userID, realtime.EventInsert, "notification.created", dto)
	return &dto, nil
}

// Notify creates a notification, logging and swallowing any failure.
func (s *NotificationService) Notify(ctx context.Context, input NotifyInput) {
	if _, err := s.Create(ctx, input); err != nil {
		metrics.NotificationFailures.WithLabelValues("in_app").Inc()
		s.log.Warn("notification delivery failed",
			zap.String("user_id", input.UserID),
			zap.String("type", input.Type),
			zap.Error(ErrNotificationDelivery.WithInternal(err)))
	}
}

// NotifyAsync runs Notify in the background, detached from the caller's cancellation.
func (s *NotificationService) NotifyAsync(ctx context.Context, input NotifyInput) {
	detached := context.WithoutCancel(ensureContext(ctx))
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.Notify(detached, input)
	}()
}

// Wait blocks until background notifications finish or ctx ends.
func (s *NotificationService) Wait(ctx context.Context) error {
	ctx = ensureContext(ctx)
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Welcome to FixHub</title></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #667eea;">Welcome to FixHub!</h1>
  <p>Hello {{.Name}},</p>
  <p>Your {{.Role}} account is ready. From FixHub you can:</p>
  <ul>
    <li>find qualified technicians by trade and location</li>
    <li>chat and call through the built-in messaging</li>
    <li>schedule interventions directly in a conversation</li>
  </ul>
  {{if .URL}}<p><a href="{{.URL}}" style="background: #667eea; color: white; padding: 12px 24px; text-decoration: none; border-radius: 5px;">Open FixHub</a></p>{{end}}
  <p style="color: #666; font-size: 12px;">If you did not create this account you can ignore this email.</p>
</body>
</html>
`))

// SendWelcome emails the account owner and records a welcome notification.
func (s *NotificationService) SendWelcome(ctx context.Context, userID string) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var profile models.UserProfile
	if err := s.dbc(ctx).Take(&profile, "id = ?", userID).Error; err != nil {
		s.log.Warn("welcome skipped, profile unavailable", zap.String("user_id", userID), zap.Error(err))
		return
	}

	name := strings.TrimSpace(profile.DisplayName)
	if name == "" {
		name = profile.Email
	}

	if s.mailer != nil && profile.Email != "" {
		var body bytes.Buffer
		err := welcomeTemplate.Execute(&body, map[string]string{"Name": name, "Role": profile.Role, "URL": s.appURL})
		if err == nil {
			err = s.mailer.Send(ctx, mail.Message{
				From:     s.from,
				To:       []string{profile.Email},
				Subject:  "Welcome to FixHub",
				Body:     fmt.Sprintf("Hello %s, your FixHub account is ready: %s", name, s.appURL),
				HTMLBody: body.String(),
				Category: models.NotificationTypeWelcome,
			})
		}
		if err != nil && !errors.Is(err, mail.ErrSMTPDisabled) {
			metrics.NotificationFailures.WithLabelValues("email").Inc()
			s.log.Warn("welcome email failed",
				zap.String("user_id", userID),
				zap.Error(ErrNotificationDelivery.WithInternal(err)))
		}
	}

	s.Notify(ctx, NotifyInput{
		UserID:  userID,
		Type:    models.NotificationTypeWelcome,
		Title:   "Welcome to FixHub",
		Message: fmt.Sprintf("Hello %s, your account is ready.", name),
	})
}

// ListForUser returns the caller's notifications ordered by recency.
func (s *NotificationService) ListForUser(ctx context.Context, input ListNotificationsInput) ([]NotificationDTO, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	offset := input.Offset
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	query := s.dbc(ctx).Where("user_id = ?", id.ID)
	if input.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&rows).Error; err != nil {
		return nil, storageError("notification service: list notifications", err)
	}

	items := make([]NotificationDTO, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapNotification(row))
	}
	return items, nil
}

// MarkRead sets the read flag of one of the caller's notifications.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID string) (*NotificationDTO, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var notification models.Notification
	if err := s.dbc(ctx).
		Where("id = ? AND user_id = ?", notificationID, id.ID).
		First(&notification).Error; err != nil {
		return nil, notFoundOr("notification service: load notification", err)
	}
	if notification.IsRead {
		dto := mapNotification(notification)
		return &dto, nil
	}

	now := s.clock()
	if err := s.dbc(ctx).Model(&notification).
		Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
		return nil, storageError("notification service: mark read", err)
	}
	notification.IsRead = true
	notification.ReadAt = &now

	dto := mapNotification(notification)
	s.broadcast(id.ID, realtime.EventUpdate, "notification.read", dto)
	return &dto, nil
}

// MarkAllRead marks all of the caller's notifications as read.
func (s *NotificationService) MarkAllRead(ctx context.Context) (int64, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	result := s.dbc(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", id.ID, false).
		Updates(map[string]any{"is_read": true, "read_at": s.clock()})
	if result.Error != nil {
		return 0, storageError("notification service: mark all read", result.Error)
	}
	if result.RowsAffected > 0 {
		s.broadcast(id.ID, realtime.EventUpdate, "notification.read_all", nil)
	}
	return result.RowsAffected, nil
}

// Delete removes one of the caller's notifications.
func (s *NotificationService) Delete(ctx context.Context, notificationID string) error {
	id, err := currentIdentity(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	result := s.dbc(ctx).
		Where("id = ? AND user_id = ?", notificationID, id.ID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return storageError("notification service: delete notification", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	s.broadcast(id.ID, realtime.EventUpdate, "notification.deleted", map[string]string{"notification_id": notificationID})
	return nil
}

// PurgeRead deletes read notifications older than retention. It runs from maintenance jobs.
func (s *NotificationService) PurgeRead(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	result := s.dbc(ctx).
		Where("is_read = ? AND created_at < ?", true, s.clock().Add(-retention)).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, storageError("notification service: purge", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *NotificationService) broadcast(userID string, eventType realtime.EventType, name string, record any) {
	s.publish(realtime.ChangeEvent{
		Table:   realtime.TableNotifications,
		Type:    eventType,
		Name:    name,
		UserIDs: []string{userID},
		Record:  record,
	})
}

func mapNotification(row models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        row.ID,
		UserID:    row.UserID,
		Type:      row.Type,
		Title:     row.Title,
		Message:   row.Message,
		RelatedID: row.RelatedID,
		Metadata:  decodeJSON(row.Metadata),
		IsRead:    row.IsRead,
		CreatedAt: row.CreatedAt,
		ReadAt:    row.ReadAt,
	}
}

func decodeJSON(data datatypes.JSON) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// counterpartName returns a display label for the caller used in notification titles.
func counterpartName(id auth.Identity) string {
	if name := strings.TrimSpace(id.DisplayName); name != "" {
		return name
	}
	if id.Email != "" {
		return id.Email
	}
	return "Someone"
}
