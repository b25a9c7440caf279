package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/pkg/response"
)

const healthProbeTimeout = 2 * time.Second

// FeedStats reports the number of live change feed subscriptions.
type FeedStats interface {
	Subscribers() int
}

// Health returns a status payload useful for readiness checks. The database is pinged
// when db is non-nil; a failed ping reports 503.
func Health(db *gorm.DB, feed FeedStats) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := gin.H{"status": "ok"}
		if feed != nil {
			payload["feed_subscribers"] = feed.Subscribers()
		}
		if db == nil {
			response.Success(c, http.StatusOK, payload)
			return
		}

		ctx, cancel := context.WithTimeout(requestContext(c), healthProbeTimeout)
		defer cancel()

		status := http.StatusOK
		database := "ok"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status = http.StatusServiceUnavailable
			database = "unavailable"
			payload["status"] = "degraded"
		}
		payload["database"] = database
		response.Success(c, status, payload)
	}
}
