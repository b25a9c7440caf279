package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/api"
	"github.com/charlesng35/fixhub/internal/app"
	"github.com/charlesng35/fixhub/internal/app/maintenance"
	iauth "github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/database"
	"github.com/charlesng35/fixhub/internal/handlers"
	"github.com/charlesng35/fixhub/internal/middleware"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/logger"
	"github.com/charlesng35/fixhub/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB       *gorm.DB
	Broker   *realtime.Broker
	Hub      *realtime.Hub
	Services api.Services
	Cleaner  *maintenance.Cleaner
	Router   *gin.Engine

	stopBridge context.CancelFunc
}

// bootstrapRuntime opens the database, builds the services and the change feed,
// starts the websocket bridge and maintenance jobs and returns the wired router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(ctx, cfg, stack.DB)
	if err != nil {
		return nil, err
	}
	for key := range generated {
		log.Info("using generated runtime secret", zap.String("key", key))
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig(nil))
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	stack.Broker = realtime.NewBroker(realtime.WithBufferSize(cfg.Realtime.BufferSize))
	stack.Services, err = buildServices(stack.DB, stack.Broker, mailer, cfg)
	if err != nil {
		return nil, err
	}

	stack.Hub = realtime.NewHub(handlers.StreamAuthorizer(stack.Services.Conversations))
	bridgeCtx, cancel := context.WithCancel(context.Background())
	stack.stopBridge = cancel
	go realtime.NewBridge(stack.Broker, stack.Hub).Run(bridgeCtx)

	stack.Cleaner = maintenance.NewCleaner(maintenance.Jobs{
		Presence:      stack.Services.Presence,
		Calls:         stack.Services.Calls,
		Notifications: stack.Services.Notifications,
	},
		maintenance.WithPresenceExpiry(cfg.Presence.TTL, cfg.Presence.ExpirySchedule),
		maintenance.WithCallSweep(cfg.Calls.UnansweredTimeout, cfg.Calls.SweepSchedule),
		maintenance.WithNotificationRetention(cfg.Notifications.Retention, cfg.Notifications.PurgeSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Config:    cfg,
		Services:  stack.Services,
		Hub:       stack.Hub,
		Broker:    stack.Broker,
		RateStore: middleware.NewMemoryRateStore(nil),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func buildServices(db *gorm.DB, feed *realtime.Broker, mailer mail.Mailer, cfg *app.Config) (api.Services, error) {
	var opts []services.Option
	if cfg.Storage.Timeout > 0 {
		opts = append(opts, services.WithStoreTimeout(cfg.Storage.Timeout))
	}

	notifications, err := services.NewNotificationService(db, feed, mailer, cfg.Email.MailSender(), opts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise notification service: %w", err)
	}
	conversations, err := services.NewConversationService(db, feed, opts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise conversation service: %w", err)
	}
	messages, err := services.NewMessageService(db, feed, conversations, notifications, opts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise message service: %w", err)
	}
	calls, err := services.NewCallService(db, feed, conversations, notifications, opts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise call service: %w", err)
	}
	presence, err := services.NewPresenceService(db, feed, opts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise presence service: %w", err)
	}
	appointments, err := services.NewAppointmentService(db, feed, conversations, messages, notifications, opts...)
	if err != nil {
		return api.Services{}, fmt.Errorf("initialise appointment service: %w", err)
	}

	return api.Services{
		Conversations: conversations,
		Messages:      messages,
		Calls:         calls,
		Presence:      presence,
		Appointments:  appointments,
		Notifications: notifications,
	}, nil
}

// Shutdown stops background jobs, drains pending notifications and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}
	if s.stopBridge != nil {
		s.stopBridge()
	}
	if s.Services.Notifications != nil {
		if err := s.Services.Notifications.Wait(ctx); err != nil {
			log.Warn("pending notifications abandoned", zap.Error(err))
		}
	}
	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
