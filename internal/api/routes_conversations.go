package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/handlers"
)

func registerConversationRoutes(api *gin.RouterGroup, conversations *handlers.ConversationHandler, messages *handlers.MessageHandler, sendLimit gin.HandlerFunc) {
	group := api.Group("/conversations")
	{
		group.POST("", conversations.Open)
		group.GET("", conversations.List)
		group.GET("/:id", conversations.Get)
		group.PATCH("/:id/status", conversations.SetStatus)

		group.GET("/:id/messages", messages.List)
		group.POST("/:id/messages", sendLimit, messages.Send)
		group.POST("/:id/read", messages.MarkRead)
	}

	api.GET("/messages/unread", messages.Unread)
}
