package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/response"
)

// PresenceHandler exposes profile and presence endpoints.
type PresenceHandler struct {
	presence      *services.PresenceService
	notifications *services.NotificationService
	now           func() time.Time
}

// NewPresenceHandler constructs a presence handler. notifications may be nil, in which
// case no welcome is sent for new profiles. now defaults to time.Now.
func NewPresenceHandler(presence *services.PresenceService, notifications *services.NotificationService, now func() time.Time) *PresenceHandler {
	if now == nil {
		now = time.Now
	}
	return &PresenceHandler{presence: presence, notifications: notifications, now: now}
}

type saveProfileRequest struct {
	DisplayName string `json:"display_name" validate:"max=255"`
	Role        string `json:"role" validate:"omitempty,oneof=client technician"`
}

type publishPresenceRequest struct {
	Online *bool `json:"online" validate:"required"`
}

type presenceResponse struct {
	services.Presence
	Status string `json:"status"`
}

// SaveProfile creates or updates the caller's profile. A newly created profile
// triggers the welcome email and notification.
func (h *PresenceHandler) SaveProfile(c *gin.Context) {
	var req saveProfileRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	profile, created, err := h.presence.SaveProfile(ctx, services.ProfileInput{
		DisplayName: req.DisplayName,
		Role:        req.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if h.notifications != nil {
			h.notifications.SendWelcome(ctx, profile.ID)
		}
	}
	response.Success(c, status, profile)
}

// Publish records the caller's online state.
func (h *PresenceHandler) Publish(c *gin.Context) {
	var req publishPresenceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	presence, err := h.presence.Publish(requestContext(c), *req.Online)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.describe(*presence))
}

// Get returns a user's presence with a human readable status.
func (h *PresenceHandler) Get(c *gin.Context) {
	presence, err := h.presence.Get(requestContext(c), pathID(c, "userID"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, h.describe(*presence))
}

func (h *PresenceHandler) describe(p services.Presence) presenceResponse {
	return presenceResponse{Presence: p, Status: services.DescribePresence(p, h.now())}
}
