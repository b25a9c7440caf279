package realtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/fixhub/pkg/logger"
)

// Bridge forwards feed events to websocket subscribers:
// conversation-scoped events go to conversation.<id>, user-scoped events to user.<id>,
// and profile changes to presence.<id>.
type Bridge struct {
	feed Feed
	hub  *Hub
	log  *zap.Logger
}

// NewBridge wires feed to hub.
func NewBridge(feed Feed, hub *Hub) *Bridge {
	return &Bridge{feed: feed, hub: hub, log: logger.WithModule("realtime.bridge")}
}

// Run forwards events until ctx is cancelled, resubscribing if the feed drops it.
func (b *Bridge) Run(ctx context.Context) {
	for {
		sub := b.feed.Subscribe(ctx, nil, Filter{})
		for event := range sub.Events() {
			b.Forward(event)
		}
		if ctx.Err() != nil {
			return
		}
		b.log.Warn("feed subscription ended, resubscribing")
	}
}

// Forward routes a single event.
func (b *Bridge) Forward(event ChangeEvent) {
	message := Message{
		Event: event.Key(),
		Data:  event.Record,
		Meta: map[string]any{
			"seq":   event.Seq,
			"table": string(event.Table),
			"type":  string(event.Type),
			"at":    event.At,
		},
	}

	switch event.Table {
	case TableUserProfiles:
		for _, userID := range event.UserIDs {
			b.hub.BroadcastStream(PresenceStream(userID), message)
		}
		return
	case TableNotifications, TableCallSignals, TableConversations:
		for _, userID := range event.UserIDs {
			b.hub.BroadcastToUser(UserStream(userID), userID, message)
		}
		return
	}

	if event.ConversationID != "" {
		message.Meta["conversation_id"] = event.ConversationID
		b.hub.BroadcastStream(ConversationStream(event.ConversationID), message)
		return
	}
	for _, userID := range event.UserIDs {
		b.hub.BroadcastToUser(UserStream(userID), userID, message)
	}
}
