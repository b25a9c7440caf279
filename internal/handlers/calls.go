package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/response"
)

// CallHandler exposes call signaling endpoints.
type CallHandler struct {
	service *services.CallService
}

// NewCallHandler constructs a call handler.
func NewCallHandler(service *services.CallService) *CallHandler {
	return &CallHandler{service: service}
}

type sendSignalRequest struct {
	Kind    string          `json:"kind" validate:"required,signal_kind"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Initiate starts a call from the caller to the other participant of the conversation.
func (h *CallHandler) Initiate(c *gin.Context) {
	call, err := h.service.Initiate(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, call)
}

// ListForConversation returns the conversation's calls, newest first.
func (h *CallHandler) ListForConversation(c *gin.Context) {
	calls, err := h.service.ListForConversation(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, calls, &response.Meta{Count: len(calls)})
}

// Get returns a single call.
func (h *CallHandler) Get(c *gin.Context) {
	call, err := h.service.Get(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// Ring marks the call as ringing on the callee side.
func (h *CallHandler) Ring(c *gin.Context) { h.transition(c, h.service.Ring) }

// Accept answers the call.
func (h *CallHandler) Accept(c *gin.Context) { h.transition(c, h.service.Accept) }

// Decline rejects the call.
func (h *CallHandler) Decline(c *gin.Context) { h.transition(c, h.service.Decline) }

// Miss records the call as unanswered.
func (h *CallHandler) Miss(c *gin.Context) { h.transition(c, h.service.Miss) }

// End hangs up an accepted call.
func (h *CallHandler) End(c *gin.Context) { h.transition(c, h.service.End) }

// Cancel hangs up before the callee answered.
func (h *CallHandler) Cancel(c *gin.Context) { h.transition(c, h.service.Cancel) }

func (h *CallHandler) transition(c *gin.Context, apply func(context.Context, string) (*models.Call, error)) {
	call, err := apply(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// SendSignal relays an SDP description or ICE candidate to the other participant.
func (h *CallHandler) SendSignal(c *gin.Context) {
	var req sendSignalRequest
	if !bindAndValidate(c, &req) {
		return
	}

	signal, err := h.service.SendSignal(requestContext(c), pathID(c, "id"), req.Kind, req.Payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, signal)
}

// ListSignals returns signals addressed to the caller, optionally after `since`.
func (h *CallHandler) ListSignals(c *gin.Context) {
	since, err := parseTimeQuery(c, "since")
	if err != nil {
		response.Error(c, err)
		return
	}

	signals, err := h.service.ListSignals(requestContext(c), pathID(c, "id"), since)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, signals, &response.Meta{Count: len(signals)})
}
