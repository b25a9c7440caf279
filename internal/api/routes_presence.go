package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/fixhub/internal/handlers"
)

func registerPresenceRoutes(api *gin.RouterGroup, handler *handlers.PresenceHandler) {
	api.POST("/profile", handler.SaveProfile)
	api.POST("/presence", handler.Publish)
	api.GET("/presence/:userID", handler.Get)
}
