package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/handlers"
)

func registerAppointmentRoutes(api *gin.RouterGroup, handler *handlers.AppointmentHandler) {
	api.POST("/conversations/:id/appointments", handler.Request)
	api.GET("/conversations/:id/appointments", handler.ListForConversation)

	group := api.Group("/appointments")
	{
		group.POST("/:id/respond", handler.Respond)
		group.POST("/:id/complete", handler.Complete)
		group.POST("/:id/cancel", handler.Cancel)
	}
}
