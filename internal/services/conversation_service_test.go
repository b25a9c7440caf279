package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
)

func TestConversationFindOrCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	client := f.user("alice", "client")
	tech := f.user("bob", "technician")

	first, err := f.conversations.FindOrCreate(client.Ctx, tech.ID)
	require.NoError(t, err)
	require.Equal(t, client.ID, first.ClientID)
	require.Equal(t, tech.ID, first.TechnicianID)
	require.Equal(t, models.ConversationStatusActive, first.Status)

	again, err := f.conversations.FindOrCreate(client.Ctx, tech.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	fromTech, err := f.conversations.FindOrCreate(tech.Ctx, client.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, fromTech.ID)
	require.Equal(t, client.ID, fromTech.ClientID)

	inserts := f.feed.byTable(realtime.TableConversations)
	require.Len(t, inserts, 1)
	require.Equal(t, realtime.EventInsert, inserts[0].Type)
}

func TestConversationFindOrCreateConcurrent(t *testing.T) {
	f := newFixture(t)
	client := f.user("alice", "client")
	tech := f.user("bob", "technician")

	const workers = 8
	ids := make([]string, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx := client.Ctx
			target := tech.ID
			if i%2 == 1 {
				ctx, target = tech.Ctx, client.ID
			}
			conv, err := f.conversations.FindOrCreate(ctx, target)
			errs[i] = err
			if conv != nil {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Conversation{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestConversationFindOrCreateValidation(t *testing.T) {
	f := newFixture(t)
	client := f.user("alice", "client")

	_, err := f.conversations.FindOrCreate(client.Ctx, client.ID)
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = f.conversations.FindOrCreate(client.Ctx, "")
	require.ErrorIs(t, err, ErrBadRequest)

	_, err = f.conversations.FindOrCreate(client.Ctx, "9b0f0c52-8d39-4b5e-9a53-b5b8f0a1a111")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = f.conversations.FindOrCreate(context.Background(), client.ID)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestConversationListOrderedByActivity(t *testing.T) {
	f := newFixture(t)
	client := f.user("alice", "client")
	bob := f.user("bob", "technician")
	carl := f.user("carl", "technician")

	withBob, err := f.conversations.FindOrCreate(client.Ctx, bob.ID)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	withCarl, err := f.conversations.FindOrCreate(client.Ctx, carl.ID)
	require.NoError(t, err)

	list, err := f.conversations.ListForCurrentUser(client.Ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, withCarl.ID, list[0].ID)

	f.clock.Advance(time.Minute)
	_, err = f.messages.Send(client.Ctx, SendMessageInput{ConversationID: withBob.ID, Content: "still there?"})
	require.NoError(t, err)

	list, err = f.conversations.ListForCurrentUser(client.Ctx)
	require.NoError(t, err)
	require.Equal(t, withBob.ID, list[0].ID)

	bobList, err := f.conversations.ListForCurrentUser(bob.Ctx)
	require.NoError(t, err)
	require.Len(t, bobList, 1)
}

func TestConversationTouchNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	client, _, convID := f.pair()

	conv, err := f.conversations.Get(client.Ctx, convID)
	require.NoError(t, err)
	original := conv.LastActivityAt

	require.NoError(t, f.conversations.Touch(context.Background(), convID, original.Add(-time.Hour)))
	conv, err = f.conversations.Get(client.Ctx, convID)
	require.NoError(t, err)
	require.True(t, conv.LastActivityAt.Equal(original))

	require.NoError(t, f.conversations.Touch(context.Background(), convID, original.Add(time.Hour)))
	conv, err = f.conversations.Get(client.Ctx, convID)
	require.NoError(t, err)
	require.True(t, conv.LastActivityAt.Equal(original.Add(time.Hour)))
}

func TestConversationAccessAndStatus(t *testing.T) {
	f := newFixture(t)
	client, tech, convID := f.pair()
	stranger := f.user("mallory", "client")

	_, err := f.conversations.Get(stranger.Ctx, convID)
	require.ErrorIs(t, err, ErrForbidden)
	require.False(t, f.conversations.IsParticipant(context.Background(), convID, stranger.ID))
	require.True(t, f.conversations.IsParticipant(context.Background(), convID, tech.ID))

	closed, err := f.conversations.SetStatus(tech.Ctx, convID, "closed")
	require.NoError(t, err)
	require.Equal(t, models.ConversationStatusClosed, closed.Status)

	_, err = f.messages.Send(client.Ctx, SendMessageInput{ConversationID: convID, Content: "hello?"})
	require.ErrorIs(t, err, ErrConversationClosed)

	_, err = f.conversations.SetStatus(client.Ctx, convID, "archived")
	require.NoError(t, err)

	_, err = f.conversations.SetStatus(client.Ctx, convID, "active")
	require.ErrorIs(t, err, ErrConflict)

	_, err = f.conversations.SetStatus(client.Ctx, convID, "deleted")
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestConversationFindOrCreateReopensArchivedPair(t *testing.T) {
	f := newFixture(t)
	client, tech, convID := f.pair()

	_, err := f.conversations.SetStatus(tech.Ctx, convID, models.ConversationStatusClosed)
	require.NoError(t, err)
	_, err = f.conversations.SetStatus(client.Ctx, convID, models.ConversationStatusArchived)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	reopened, err := f.conversations.FindOrCreate(tech.Ctx, client.ID)
	require.NoError(t, err)
	require.Equal(t, convID, reopened.ID, "the pair keeps one conversation")
	require.Equal(t, models.ConversationStatusActive, reopened.Status)
	require.True(t, reopened.LastActivityAt.Equal(f.clock.Now()))

	updates := f.feed.byTable(realtime.TableConversations)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	require.Equal(t, realtime.EventUpdate, last.Type)
	require.Equal(t, models.ConversationStatusActive, last.Record.(models.Conversation).Status)

	_, err = f.messages.Send(client.Ctx, SendMessageInput{ConversationID: convID, Content: "back again"})
	require.NoError(t, err)

	again, err := f.conversations.FindOrCreate(client.Ctx, tech.ID)
	require.NoError(t, err)
	require.Equal(t, convID, again.ID)

	list, err := f.conversations.ListForCurrentUser(client.Ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
