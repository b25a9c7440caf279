package client

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database/testutil"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/internal/services"
)

type testEnv struct {
	t             *testing.T
	db            *gorm.DB
	broker        *realtime.Broker
	presence      *services.PresenceService
	conversations *services.ConversationService
	messages      *services.MessageService
	calls         *services.CallService
	appointments  *services.AppointmentService
}

type party struct {
	ID  string
	Ctx context.Context
}

func newTestEnv(t *testing.T, opts ...realtime.BrokerOption) *testEnv {
	t.Helper()

	env := &testEnv{
		t:      t,
		db:     testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()),
		broker: realtime.NewBroker(opts...),
	}
	var err error
	env.presence, err = services.NewPresenceService(env.db, env.broker)
	require.NoError(t, err)
	env.conversations, err = services.NewConversationService(env.db, env.broker)
	require.NoError(t, err)
	env.messages, err = services.NewMessageService(env.db, env.broker, env.conversations, nil)
	require.NoError(t, err)
	env.calls, err = services.NewCallService(env.db, env.broker, env.conversations, nil)
	require.NoError(t, err)
	env.appointments, err = services.NewAppointmentService(env.db, env.broker, env.conversations, env.messages, nil)
	require.NoError(t, err)
	return env
}

func (e *testEnv) party(name, role string) party {
	e.t.Helper()
	id := auth.Identity{ID: uuid.NewString(), DisplayName: name}
	ctx := auth.WithIdentity(context.Background(), id)
	_, _, err := e.presence.SaveProfile(ctx, services.ProfileInput{Role: role})
	require.NoError(e.t, err)
	return party{ID: id.ID, Ctx: ctx}
}

func (e *testEnv) conversation(client, technician party) string {
	e.t.Helper()
	conv, err := e.conversations.FindOrCreate(client.Ctx, technician.ID)
	require.NoError(e.t, err)
	return conv.ID
}

func (e *testEnv) openView(p party, conversationID string) *ConversationView {
	e.t.Helper()
	view, err := NewConversationView(ViewDeps{
		Conversations: e.conversations,
		Messages:      e.messages,
		Presence:      e.presence,
		Calls:         e.calls,
		Appointments:  e.appointments,
		Feed:          e.broker,
	})
	require.NoError(e.t, err)
	require.NoError(e.t, view.Open(p.Ctx, conversationID))
	e.t.Cleanup(view.Close)
	return view
}

func (e *testEnv) stored(p party, conversationID string) []models.Message {
	e.t.Helper()
	rows, err := e.messages.List(p.Ctx, conversationID, services.ListMessagesInput{})
	require.NoError(e.t, err)
	return rows
}
