package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/fixhub/internal/realtime"
)

type participants map[string][]string

func (p participants) IsParticipant(_ context.Context, conversationID, userID string) bool {
	for _, member := range p[conversationID] {
		if member == userID {
			return true
		}
	}
	return false
}

func TestStreamAuthorizer(t *testing.T) {
	authorize := StreamAuthorizer(participants{"conv-1": {"alice", "bob"}})
	ctx := context.Background()

	cases := []struct {
		name   string
		user   string
		stream string
		want   bool
	}{
		{"own user stream", "alice", realtime.UserStream("alice"), true},
		{"foreign user stream", "alice", realtime.UserStream("bob"), false},
		{"any presence stream", "alice", realtime.PresenceStream("carol"), true},
		{"participant conversation", "bob", realtime.ConversationStream("conv-1"), true},
		{"outsider conversation", "carol", realtime.ConversationStream("conv-1"), false},
		{"unknown conversation", "alice", realtime.ConversationStream("conv-2"), false},
		{"unknown prefix", "alice", "admin.alice", false},
		{"empty", "alice", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, authorize(ctx, tc.user, tc.stream))
		})
	}
}

func TestStreamAuthorizerWithoutConversations(t *testing.T) {
	authorize := StreamAuthorizer(nil)
	require.False(t, authorize(context.Background(), "alice", realtime.ConversationStream("conv-1")))
	require.True(t, authorize(context.Background(), "alice", realtime.UserStream("alice")))
}
