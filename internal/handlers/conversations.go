package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/response"
)

// ConversationHandler exposes conversation lifecycle endpoints.
type ConversationHandler struct {
	service *services.ConversationService
}

// NewConversationHandler constructs a conversation handler.
func NewConversationHandler(service *services.ConversationService) *ConversationHandler {
	return &ConversationHandler{service: service}
}

type openConversationRequest struct {
	CounterpartID string `json:"counterpart_id" validate:"required,notblank,max=64"`
}

type conversationStatusRequest struct {
	Status string `json:"status" validate:"required,conversation_status"`
}

// Open finds or creates the conversation between the caller and a counterpart.
func (h *ConversationHandler) Open(c *gin.Context) {
	var req openConversationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	conv, err := h.service.FindOrCreate(requestContext(c), req.CounterpartID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// List returns the caller's conversations, most recently active first.
func (h *ConversationHandler) List(c *gin.Context) {
	items, err := h.service.ListForCurrentUser(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{Count: len(items)})
}

// Get returns a single conversation the caller takes part in.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.service.Get(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}

// SetStatus closes, archives or reopens a conversation.
func (h *ConversationHandler) SetStatus(c *gin.Context) {
	var req conversationStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	conv, err := h.service.SetStatus(requestContext(c), pathID(c, "id"), req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, conv)
}
