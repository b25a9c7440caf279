package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// sampleCount returns the observations of histogram family name whose labels include want.
func sampleCount(t *testing.T, name string, want map[string]string) uint64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var total uint64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, want) {
				total += metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return total
}

func labelsMatch(metric *dto.Metric, want map[string]string) bool {
	labels := map[string]string{}
	for _, pair := range metric.GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	for key, value := range want {
		if labels[key] != value {
			return false
		}
	}
	return true
}

func TestMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/conversations/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/abc", nil))
	require.Equal(t, http.StatusOK, w.Code)

	require.NotZero(t, sampleCount(t, "fixhub_api_latency_seconds",
		map[string]string{"path": "/conversations/:id", "status": "200"}))
}

func TestMetricsMiddlewareLabelsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/random/4f1c2a", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	require.NotZero(t, sampleCount(t, "fixhub_api_latency_seconds",
		map[string]string{"path": unmatchedRoute, "status": "404"}))
	require.Zero(t, sampleCount(t, "fixhub_api_latency_seconds",
		map[string]string{"path": "/random/4f1c2a"}))
}

func TestMetricsMiddlewareRecordsRealtimeSessions(t *testing.T) {
	gin.SetMode(gin.TestMode)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/realtime", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	})

	server := httptest.NewServer(r)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/api/realtime", nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return sampleCount(t, "fixhub_realtime_session_seconds", map[string]string{"path": "/api/realtime"}) > 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, sampleCount(t, "fixhub_api_latency_seconds", map[string]string{"path": "/api/realtime"}),
		"sessions are kept out of request latency")
}
