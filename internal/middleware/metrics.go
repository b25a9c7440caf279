package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/charlesng35/fixhub/pkg/metrics"
)

// unmatchedRoute labels requests that hit no route so raw URLs never become labels.
const unmatchedRoute = "unmatched"

// Metrics records request latency by route template. A websocket upgrade that
// succeeds is recorded as a realtime session lasting until the handler returns.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		upgrade := websocket.IsWebSocketUpgrade(c.Request)
		c.Next()

		duration := time.Since(start).Seconds()
		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}

		status := c.Writer.Status()
		if upgrade && status < http.StatusBadRequest {
			metrics.RealtimeSessionSeconds.WithLabelValues(path).Observe(duration)
			return
		}
		metrics.APILatency.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Observe(duration)
	}
}
