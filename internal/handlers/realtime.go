package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/errors"
	"github.com/charlesng35/fixhub/pkg/response"
)

// ParticipantChecker reports conversation membership.
type ParticipantChecker interface {
	IsParticipant(ctx context.Context, conversationID, userID string) bool
}

// StreamAuthorizer allows a user onto their own private stream, any presence stream
// and the streams of conversations they take part in.
func StreamAuthorizer(conversations ParticipantChecker) realtime.StreamAuthorizer {
	return func(ctx context.Context, userID, stream string) bool {
		prefix, id, ok := realtime.ParseStream(stream)
		if !ok {
			return false
		}
		switch prefix {
		case realtime.StreamPrefixUser:
			return strings.EqualFold(id, userID)
		case realtime.StreamPrefixPresence:
			return true
		case realtime.StreamPrefixConversation:
			return conversations != nil && conversations.IsParticipant(ctx, id, userID)
		}
		return false
	}
}

// RealtimeHandler upgrades authenticated HTTP connections into websocket streams.
type RealtimeHandler struct {
	hub *realtime.Hub
}

// NewRealtimeHandler constructs a realtime handler.
func NewRealtimeHandler(hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{hub: hub}
}

// Stream binds the websocket to the caller's identity for its whole lifetime. Streams
// come from `stream` / `streams` query parameters; the caller's private stream is
// always joined.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	id, err := iauth.RequireIdentity(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	streams := append([]string{realtime.UserStream(id.ID)}, gatherStreams(c)...)
	h.hub.Serve(id.ID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return streams
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
