package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database/testutil"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
)

func TestClientTechnicianConversationFlow(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	broker := realtime.NewBroker()

	presence, err := NewPresenceService(db, broker)
	require.NoError(t, err)
	conversations, err := NewConversationService(db, broker)
	require.NoError(t, err)
	messages, err := NewMessageService(db, broker, conversations, nil)
	require.NoError(t, err)

	bID := uuid.NewString()
	a := auth.WithIdentity(context.Background(), auth.Identity{ID: uuid.NewString(), DisplayName: "A"})
	b := auth.WithIdentity(context.Background(), auth.Identity{ID: bID, DisplayName: "B"})
	_, _, err = presence.SaveProfile(a, ProfileInput{Role: models.RoleClient})
	require.NoError(t, err)
	_, _, err = presence.SaveProfile(b, ProfileInput{Role: models.RoleTechnician})
	require.NoError(t, err)

	conv, err := conversations.FindOrCreate(a, bID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub := broker.Subscribe(ctx, []realtime.Table{realtime.TableMessages}, realtime.Filter{ConversationID: conv.ID, UserID: bID})

	_, err = messages.Send(a, SendMessageInput{ConversationID: conv.ID, Content: "Bonjour"})
	require.NoError(t, err)

	select {
	case event := <-sub.Events():
		require.Equal(t, realtime.EventInsert, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("technician did not receive the insert")
	}

	seen, err := messages.List(b, conv.ID, ListMessagesInput{})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, "Bonjour", seen[0].Content)
	require.False(t, seen[0].IsRead)

	marked, err := messages.MarkRead(b, conv.ID)
	require.NoError(t, err)
	require.EqualValues(t, 1, marked)

	select {
	case event := <-sub.Events():
		require.Equal(t, EventMessagesRead, event.Key())
	case <-time.After(2 * time.Second):
		t.Fatal("read receipt was not published")
	}

	mine, err := messages.List(a, conv.ID, ListMessagesInput{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.True(t, mine[0].IsRead)
}
