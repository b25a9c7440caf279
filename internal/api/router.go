package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/app"
	iauth "github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/handlers"
	"github.com/charlesng35/fixhub/internal/middleware"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/internal/services"
)

const (
	messageSendLimit  = 30
	messageSendWindow = time.Minute
)

// Services bundles the domain services exposed over HTTP.
type Services struct {
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Calls         *services.CallService
	Presence      *services.PresenceService
	Appointments  *services.AppointmentService
	Notifications *services.NotificationService
}

func (s Services) validate() error {
	switch {
	case s.Conversations == nil:
		return fmt.Errorf("conversation service must be provided")
	case s.Messages == nil:
		return fmt.Errorf("message service must be provided")
	case s.Calls == nil:
		return fmt.Errorf("call service must be provided")
	case s.Presence == nil:
		return fmt.Errorf("presence service must be provided")
	case s.Appointments == nil:
		return fmt.Errorf("appointment service must be provided")
	case s.Notifications == nil:
		return fmt.Errorf("notification service must be provided")
	}
	return nil
}

// Dependencies carries everything the router wires into handlers.
type Dependencies struct {
	DB        *gorm.DB
	JWT       *iauth.JWTService
	Config    *app.Config
	Services  Services
	Hub       *realtime.Hub
	Broker    *realtime.Broker
	RateStore middleware.RateStore
	// Clock drives presence status wording; nil uses time.Now.
	Clock func() time.Time
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.JWT == nil {
		return nil, fmt.Errorf("jwt service must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.Services.validate(); err != nil {
		return nil, err
	}

	cfg := deps.Config
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))

	registerHealthRoutes(r, deps)
	registerMetricsRoutes(r, cfg)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	svc := deps.Services
	registerConversationRoutes(api,
		handlers.NewConversationHandler(svc.Conversations),
		handlers.NewMessageHandler(svc.Messages),
		middleware.RateLimit(deps.RateStore, messageSendLimit, messageSendWindow),
	)
	registerCallRoutes(api, handlers.NewCallHandler(svc.Calls))
	registerPresenceRoutes(api, handlers.NewPresenceHandler(svc.Presence, svc.Notifications, deps.Clock))
	registerAppointmentRoutes(api, handlers.NewAppointmentHandler(svc.Appointments))
	registerNotificationRoutes(api, handlers.NewNotificationHandler(svc.Notifications))
	registerRealtimeRoutes(api, handlers.NewRealtimeHandler(deps.Hub))

	return r, nil
}
