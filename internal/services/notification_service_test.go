package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database/testutil"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/mail"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *fakeMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func newNotificationService(t *testing.T, mailer mail.Mailer, opts ...Option) (*NotificationService, *recordingFeed) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	feed := &recordingFeed{}
	svc, err := NewNotificationService(db, feed, mailer, MailSender{From: "noreply@fixhub.test", AppURL: "https://fixhub.test/"}, opts...)
	require.NoError(t, err)
	return svc, feed
}

func TestNotificationServiceCreateAndList(t *testing.T) {
	svc, feed := newNotificationService(t, nil)
	userID := "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a01"
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: userID})

	dto, err := svc.Create(context.Background(), NotifyInput{
		UserID:    userID,
		Type:      models.NotificationTypeMessage,
		Title:     "New message from bob",
		Message:   "see you at 9",
		RelatedID: "conv-1",
		Metadata:  map[string]any{"message_id": "m-1"},
	})
	require.NoError(t, err)
	require.Equal(t, "m-1", dto.Metadata["message_id"])

	items, err := svc.ListForUser(ctx, ListNotificationsInput{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, dto.ID, items[0].ID)
	require.False(t, items[0].IsRead)

	events := feed.byTable(realtime.TableNotifications)
	require.Len(t, events, 1)
	require.Equal(t, "notification.created", events[0].Key())
	require.Equal(t, []string{userID}, events[0].UserIDs)

	_, err = svc.Create(context.Background(), NotifyInput{UserID: userID})
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = svc.ListForUser(context.Background(), ListNotificationsInput{})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNotificationServiceReadAndDelete(t *testing.T) {
	svc, _ := newNotificationService(t, nil)
	userID := "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a02"
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: userID})
	other := auth.WithIdentity(context.Background(), auth.Identity{ID: "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a03"})

	var ids []string
	for i := 0; i < 3; i++ {
		dto, err := svc.Create(ctx, NotifyInput{UserID: userID, Type: models.NotificationTypeCall, Title: "Incoming call"})
		require.NoError(t, err)
		ids = append(ids, dto.ID)
	}

	_, err := svc.MarkRead(other, ids[0])
	require.ErrorIs(t, err, ErrNotFound)

	read, err := svc.MarkRead(ctx, ids[0])
	require.NoError(t, err)
	require.True(t, read.IsRead)
	require.NotNil(t, read.ReadAt)

	unread, err := svc.ListForUser(ctx, ListNotificationsInput{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread, 2)

	count, err := svc.MarkAllRead(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	count, err = svc.MarkAllRead(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	require.ErrorIs(t, svc.Delete(other, ids[1]), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, ids[1]))

	all, err := svc.ListForUser(ctx, ListNotificationsInput{})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestNotificationServicePurgeRead(t *testing.T) {
	clock := newFakeClock()
	svc, _ := newNotificationService(t, nil, WithClock(clock.Now))
	userID := "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a04"
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: userID})

	dto, err := svc.Create(ctx, NotifyInput{UserID: userID, Type: models.NotificationTypeWelcome})
	require.NoError(t, err)
	_, err = svc.Create(ctx, NotifyInput{UserID: userID, Type: models.NotificationTypeWelcome})
	require.NoError(t, err)
	_, err = svc.MarkRead(ctx, dto.ID)
	require.NoError(t, err)

	clock.Set(time.Now().UTC().Add(48 * time.Hour))
	purged, err := svc.PurgeRead(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, purged)

	left, err := svc.ListForUser(ctx, ListNotificationsInput{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.False(t, left[0].IsRead)
}

func TestNotificationServiceNotifySwallowsFailures(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	svc, _ := newNotificationService(t, nil, WithLogger(zap.New(core)))

	svc.NotifyAsync(context.Background(), NotifyInput{UserID: "", Type: models.NotificationTypeMessage})
	require.NoError(t, svc.Wait(context.Background()))

	require.Equal(t, 1, logs.FilterMessage("notification delivery failed").Len())
}

func TestNotificationServiceNotifyAsyncOutlivesCaller(t *testing.T) {
	svc, feed := newNotificationService(t, nil)
	userID := "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a05"

	ctx, cancel := context.WithCancel(context.Background())
	svc.NotifyAsync(ctx, NotifyInput{UserID: userID, Type: models.NotificationTypeMissedCall, Title: "Missed call"})
	cancel()
	require.NoError(t, svc.Wait(context.Background()))

	require.Len(t, feed.byTable(realtime.TableNotifications), 1)
}

func TestNotificationServiceSendWelcome(t *testing.T) {
	mailer := &fakeMailer{}
	svc, _ := newNotificationService(t, mailer)
	userID := "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a06"
	require.NoError(t, svc.db.Create(&models.UserProfile{
		ID:          userID,
		DisplayName: "Alice",
		Email:       "alice@example.com",
		Role:        models.RoleClient,
	}).Error)

	svc.SendWelcome(context.Background(), userID)

	require.Len(t, mailer.sent, 1)
	msg := mailer.sent[0]
	require.Equal(t, "noreply@fixhub.test", msg.From)
	require.Equal(t, []string{"alice@example.com"}, msg.To)
	require.Contains(t, msg.HTMLBody, "Hello Alice")
	require.Contains(t, msg.HTMLBody, "https://fixhub.test")
	require.Contains(t, msg.Body, "Hello Alice")
	require.Equal(t, models.NotificationTypeWelcome, msg.Category)

	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: userID})
	items, err := svc.ListForUser(ctx, ListNotificationsInput{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, models.NotificationTypeWelcome, items[0].Type)
}

func TestNotificationServiceSendWelcomeMailFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	mailer := &fakeMailer{err: errors.New("connection refused")}
	svc, _ := newNotificationService(t, mailer, WithLogger(zap.New(core)))
	userID := "3c2a9b64-0b1e-4f0f-9c55-8d2f0f6c1a07"
	require.NoError(t, svc.db.Create(&models.UserProfile{ID: userID, Email: "bob@example.com", Role: models.RoleTechnician}).Error)

	svc.SendWelcome(context.Background(), userID)

	require.Equal(t, 1, logs.FilterMessage("welcome email failed").Len())
	ctx := auth.WithIdentity(context.Background(), auth.Identity{ID: userID})
	items, err := svc.ListForUser(ctx, ListNotificationsInput{})
	require.NoError(t, err)
	require.Len(t, items, 1, "in-app welcome is still recorded")
}
