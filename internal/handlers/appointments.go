package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/response"
)

// AppointmentHandler exposes the appointment workflow.
type AppointmentHandler struct {
	service *services.AppointmentService
}

// NewAppointmentHandler constructs an appointment handler.
func NewAppointmentHandler(service *services.AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

type requestAppointmentRequest struct {
	ProposedDate time.Time `json:"proposed_date" validate:"required"`
	Description  string    `json:"description" validate:"max=2000"`
}

type respondAppointmentRequest struct {
	Accept *bool `json:"accept" validate:"required"`
}

// Request proposes an intervention date inside the conversation.
func (h *AppointmentHandler) Request(c *gin.Context) {
	var req requestAppointmentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	appointment, err := h.service.Request(requestContext(c), pathID(c, "id"), services.RequestAppointmentInput{
		ProposedDate: req.ProposedDate,
		Description:  req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, appointment)
}

// ListForConversation returns the conversation's appointments.
func (h *AppointmentHandler) ListForConversation(c *gin.Context) {
	items, err := h.service.ListForConversation(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, items, &response.Meta{Count: len(items)})
}

// Respond accepts or declines a pending request.
func (h *AppointmentHandler) Respond(c *gin.Context) {
	var req respondAppointmentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	appointment, err := h.service.Respond(requestContext(c), pathID(c, "id"), *req.Accept)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, appointment)
}

// Complete marks an accepted appointment as done.
func (h *AppointmentHandler) Complete(c *gin.Context) { h.transition(c, h.service.Complete) }

// Cancel withdraws an appointment.
func (h *AppointmentHandler) Cancel(c *gin.Context) { h.transition(c, h.service.Cancel) }

func (h *AppointmentHandler) transition(c *gin.Context, apply func(context.Context, string) (*models.Appointment, error)) {
	appointment, err := apply(requestContext(c), pathID(c, "id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, appointment)
}
