package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/handlers"
)

func registerCallRoutes(api *gin.RouterGroup, handler *handlers.CallHandler) {
	api.POST("/conversations/:id/calls", handler.Initiate)
	api.GET("/conversations/:id/calls", handler.ListForConversation)

	group := api.Group("/calls")
	{
		group.GET("/:id", handler.Get)
		group.POST("/:id/ring", handler.Ring)
		group.POST("/:id/accept", handler.Accept)
		group.POST("/:id/decline", handler.Decline)
		group.POST("/:id/miss", handler.Miss)
		group.POST("/:id/end", handler.End)
		group.POST("/:id/cancel", handler.Cancel)

		group.POST("/:id/signals", handler.SendSignal)
		group.GET("/:id/signals", handler.ListSignals)
	}
}
