package realtime

import "strings"

// Stream prefixes understood by the websocket hub.
const (
	StreamPrefixConversation = "conversation."
	StreamPrefixUser         = "user."
	StreamPrefixPresence     = "presence."
)

// ConversationStream names the stream carrying a conversation's messages, calls and appointments.
func ConversationStream(conversationID string) string {
	return normalizeStream(StreamPrefixConversation + conversationID)
}

// UserStream names the private stream of a user (notifications, call signals).
func UserStream(userID string) string {
	return normalizeStream(StreamPrefixUser + userID)
}

// PresenceStream names the stream carrying a user's presence changes.
func PresenceStream(userID string) string {
	return normalizeStream(StreamPrefixPresence + userID)
}

// ParseStream splits a stream into its prefix and identifier.
func ParseStream(stream string) (prefix, id string, ok bool) {
	stream = normalizeStream(stream)
	for _, p := range []string{StreamPrefixConversation, StreamPrefixUser, StreamPrefixPresence} {
		if strings.HasPrefix(stream, p) && len(stream) > len(p) {
			return p, stream[len(p):], true
		}
	}
	return "", "", false
}
