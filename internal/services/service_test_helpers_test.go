package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database/testutil"
	"github.com/charlesng35/fixhub/internal/realtime"
)

type recordingFeed struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (f *recordingFeed) Publish(event realtime.ChangeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *recordingFeed) byTable(table realtime.Table) []realtime.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []realtime.ChangeEvent
	for _, event := range f.events {
		if event.Table == table {
			out = append(out, event)
		}
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	inputs []NotifyInput
}

func (n *recordingNotifier) NotifyAsync(_ context.Context, input NotifyInput) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inputs = append(n.inputs, input)
}

func (n *recordingNotifier) ofType(kind string) []NotifyInput {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NotifyInput
	for _, input := range n.inputs {
		if input.Type == kind {
			out = append(out, input)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testUser struct {
	ID  string
	Ctx context.Context
}

type fixture struct {
	t             *testing.T
	db            *gorm.DB
	feed          *recordingFeed
	notifier      *recordingNotifier
	clock         *fakeClock
	presence      *PresenceService
	conversations *ConversationService
	messages      *MessageService
	calls         *CallService
	appointments  *AppointmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		t:        t,
		db:       testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()),
		feed:     &recordingFeed{},
		notifier: &recordingNotifier{},
		clock:    newFakeClock(),
	}
	opts := []Option{WithClock(f.clock.Now)}

	var err error
	f.presence, err = NewPresenceService(f.db, f.feed, opts...)
	require.NoError(t, err)
	f.conversations, err = NewConversationService(f.db, f.feed, opts...)
	require.NoError(t, err)
	f.messages, err = NewMessageService(f.db, f.feed, f.conversations, f.notifier, opts...)
	require.NoError(t, err)
	f.calls, err = NewCallService(f.db, f.feed, f.conversations, f.notifier, opts...)
	require.NoError(t, err)
	f.appointments, err = NewAppointmentService(f.db, f.feed, f.conversations, f.messages, f.notifier, opts...)
	require.NoError(t, err)
	return f
}

// user registers a profile with the given role and returns a context signed in as it.
func (f *fixture) user(name, role string) testUser {
	f.t.Helper()

	id := auth.Identity{ID: uuid.NewString(), DisplayName: name, Email: name + "@example.com"}
	ctx := auth.WithIdentity(context.Background(), id)
	_, created, err := f.presence.SaveProfile(ctx, ProfileInput{DisplayName: name, Role: role})
	require.NoError(f.t, err)
	require.True(f.t, created)
	return testUser{ID: id.ID, Ctx: ctx}
}

func (f *fixture) pair() (client, technician testUser, conversationID string) {
	f.t.Helper()

	client = f.user("alice", "client")
	technician = f.user("bob", "technician")
	conv, err := f.conversations.FindOrCreate(client.Ctx, technician.ID)
	require.NoError(f.t, err)
	return client, technician, conv.ID
}
