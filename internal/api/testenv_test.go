package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/app"
	iauth "github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database/testutil"
	"github.com/charlesng35/fixhub/internal/handlers"
	"github.com/charlesng35/fixhub/internal/middleware"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/response"
)

type testEnv struct {
	t        *testing.T
	db       *gorm.DB
	jwt      *iauth.JWTService
	broker   *realtime.Broker
	hub      *realtime.Hub
	services Services
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "router-test-secret", Issuer: "test", AccessTokenTTL: time.Hour})
	require.NoError(t, err)

	broker := realtime.NewBroker()

	notifications, err := services.NewNotificationService(db, broker, nil, services.MailSender{})
	require.NoError(t, err)
	conversations, err := services.NewConversationService(db, broker)
	require.NoError(t, err)
	messages, err := services.NewMessageService(db, broker, conversations, notifications)
	require.NoError(t, err)
	calls, err := services.NewCallService(db, broker, conversations, notifications)
	require.NoError(t, err)
	presence, err := services.NewPresenceService(db, broker)
	require.NoError(t, err)
	appointments, err := services.NewAppointmentService(db, broker, conversations, messages, notifications)
	require.NoError(t, err)

	svc := Services{
		Conversations: conversations,
		Messages:      messages,
		Calls:         calls,
		Presence:      presence,
		Appointments:  appointments,
		Notifications: notifications,
	}
	hub := realtime.NewHub(handlers.StreamAuthorizer(conversations))

	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/metrics"

	router, err := NewRouter(Dependencies{
		DB:        db,
		JWT:       jwtSvc,
		Config:    cfg,
		Services:  svc,
		Hub:       hub,
		Broker:    broker,
		RateStore: middleware.NewMemoryRateStore(nil),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = notifications.Wait(ctx)
	})

	return &testEnv{t: t, db: db, jwt: jwtSvc, broker: broker, hub: hub, services: svc, router: router}
}

type testUser struct {
	ID    string
	Token string
}

// user mints a token and registers the profile with the given role.
func (e *testEnv) user(name, role string) testUser {
	e.t.Helper()
	id := uuid.NewString()
	token, err := e.jwt.GenerateAccessToken(iauth.Identity{ID: id, DisplayName: name, Email: name + "@example.com"})
	require.NoError(e.t, err)

	u := testUser{ID: id, Token: token}
	rec := e.do(http.MethodPost, "/api/profile", u, map[string]string{"display_name": name, "role": role})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return u
}

func (e *testEnv) do(method, path string, as testUser, body any) *httptest.ResponseRecorder {
	e.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as.Token != "" {
		req.Header.Set("Authorization", "Bearer "+as.Token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Success bool                `json:"success"`
	Data    T                   `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) conversation(a, b testUser) string {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/conversations", a, map[string]string{"counterpart_id": b.ID})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		ID string `json:"id"`
	}](e.t, rec).Data.ID
}

func newConfigForTest() *app.Config {
	cfg := &app.Config{}
	cfg.Monitoring.Health.Enabled = true
	return cfg
}
