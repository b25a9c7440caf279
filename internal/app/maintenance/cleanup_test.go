package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	testutil "github.com/charlesng35/fixhub/internal/database/testutil"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/services"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := services.WithClock(func() time.Time { return now })

	presence, err := services.NewPresenceService(db, nil, clock)
	require.NoError(t, err)
	conversations, err := services.NewConversationService(db, nil, clock)
	require.NoError(t, err)
	calls, err := services.NewCallService(db, nil, conversations, nil, clock)
	require.NoError(t, err)
	notifications, err := services.NewNotificationService(db, nil, nil, services.MailSender{}, clock)
	require.NoError(t, err)

	stale := now.Add(-5 * time.Minute)
	fresh := now.Add(-10 * time.Second)
	require.NoError(t, db.Create(&models.UserProfile{ID: "11111111-1111-1111-1111-111111111111", IsOnline: true, LastSeen: &stale}).Error)
	require.NoError(t, db.Create(&models.UserProfile{ID: "22222222-2222-2222-2222-222222222222", IsOnline: true, LastSeen: &fresh}).Error)

	ringing := models.Call{
		BaseModel:      models.BaseModel{CreatedAt: now.Add(-3 * time.Minute)},
		ConversationID: "33333333-3333-3333-3333-333333333333",
		CallerID:       "11111111-1111-1111-1111-111111111111",
		CalleeID:       "22222222-2222-2222-2222-222222222222",
		Status:         models.CallStatusRinging,
	}
	require.NoError(t, db.Create(&ringing).Error)

	readAt := now.Add(-40 * 24 * time.Hour)
	require.NoError(t, db.Create(&models.Notification{
		BaseModel: models.BaseModel{CreatedAt: readAt},
		UserID:    "22222222-2222-2222-2222-222222222222",
		Type:      models.NotificationTypeMessage,
		Title:     "old",
		IsRead:    true,
		ReadAt:    &readAt,
	}).Error)
	require.NoError(t, db.Create(&models.Notification{
		UserID: "22222222-2222-2222-2222-222222222222",
		Type:   models.NotificationTypeMessage,
		Title:  "unread",
	}).Error)

	c := NewCleaner(Jobs{Presence: presence, Calls: calls, Notifications: notifications},
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, c.RunOnce(context.Background()))

	var profile models.UserProfile
	require.NoError(t, db.First(&profile, "id = ?", "11111111-1111-1111-1111-111111111111").Error)
	require.False(t, profile.IsOnline)
	require.NoError(t, db.First(&profile, "id = ?", "22222222-2222-2222-2222-222222222222").Error)
	require.True(t, profile.IsOnline)

	var call models.Call
	require.NoError(t, db.First(&call, "id = ?", ringing.ID).Error)
	require.Equal(t, models.CallStatusMissed, call.Status)

	var remaining []models.Notification
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "unread", remaining[0].Title)
}

type failingJobs struct{}

func (failingJobs) ExpireStale(context.Context, time.Duration) (int, error) {
	return 0, errors.New("presence down")
}

func (failingJobs) SweepUnanswered(context.Context, time.Duration) (int, error) {
	return 0, errors.New("calls down")
}

type recordingPurger struct {
	retention time.Duration
}

func (p *recordingPurger) PurgeRead(_ context.Context, retention time.Duration) (int64, error) {
	p.retention = retention
	return 0, nil
}

func TestCleanerRunOnceAggregatesErrors(t *testing.T) {
	purger := &recordingPurger{}
	c := NewCleaner(Jobs{Presence: failingJobs{}, Calls: failingJobs{}, Notifications: purger},
		WithNotificationRetention(48*time.Hour, ""),
	)

	err := c.RunOnce(context.Background())
	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	require.ErrorContains(t, errs[0], "presence expiry: presence down")
	require.ErrorContains(t, errs[1], "call sweep: calls down")
	require.Equal(t, 48*time.Hour, purger.retention)
}

func TestCleanerStartRegistersEnabledJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(Jobs{Notifications: &recordingPurger{}},
		WithCron(scheduler),
		WithPresenceExpiry(time.Minute, "@every 1m"),
	)

	require.NoError(t, c.Start())
	t.Cleanup(func() { <-c.Stop().Done() })
	require.Len(t, scheduler.Entries(), 1)
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	c := NewCleaner(Jobs{Calls: failingJobs{}}, WithCallSweep(time.Minute, "not a schedule"))
	require.ErrorContains(t, c.Start(), "schedule call sweep")
}

func TestCleanerStartWithoutJobs(t *testing.T) {
	c := NewCleaner(Jobs{})
	require.NoError(t, c.Start())
	require.NoError(t, c.RunOnce(context.Background()))
}
