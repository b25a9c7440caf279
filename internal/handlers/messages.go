package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/response"
)

const maxMessagePage = 200

// MessageHandler exposes conversation history, posting and read-state endpoints.
type MessageHandler struct {
	service *services.MessageService
}

// NewMessageHandler constructs a message handler.
func NewMessageHandler(service *services.MessageService) *MessageHandler {
	return &MessageHandler{service: service}
}

type sendMessageRequest struct {
	Content   string `json:"content" validate:"required,notblank"`
	Kind      string `json:"kind" validate:"omitempty,message_kind"`
	ClientRef string `json:"client_ref" validate:"omitempty,max=64"`
}

// List returns conversation history in ascending order. Without a limit the full
// history is returned; with one, the newest page before the `before` message id.
func (h *MessageHandler) List(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 0)
	if limit < 0 {
		limit = 0
	}
	if limit > maxMessagePage {
		limit = maxMessagePage
	}

	items, err := h.service.List(requestContext(c), pathID(c, "id"), services.ListMessagesInput{
		Limit:  limit,
		Before: strings.TrimSpace(c.Query("before")),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	meta := &response.Meta{Count: len(items), Limit: limit}
	if limit > 0 && len(items) == limit {
		meta.HasMore = true
		meta.NextBefore = items[0].ID
	}
	response.SuccessWithMeta(c, http.StatusOK, items, meta)
}

// Send appends a message to the conversation.
func (h *MessageHandler) Send(c *gin.Context) {
	var req sendMessageRequest
	if !bindAndValidate(c, &req) {
		return
	}

	msg, err := h.service.Send(requestContext(c), services.SendMessageInput{
		ConversationID: pathID(c, "id"),
		Content:        req.Content,
		Kind:           strings.ToLower(strings.TrimSpace(req.Kind)),
		ClientRef:      strings.TrimSpace(req.ClientRef),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, msg)
}

// MarkRead marks every message the caller received in the conversation as read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	marked, err := h.service.MarkRead(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"marked": marked})
}

// Unread returns unread message counts keyed by conversation id.
func (h *MessageHandler) Unread(c *gin.Context) {
	counts, err := h.service.UnreadCount(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	var total int64
	for _, count := range counts {
		total += count
	}
	response.Success(c, http.StatusOK, gin.H{"conversations": counts, "total": total})
}
