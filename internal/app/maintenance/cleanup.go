package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/fixhub/pkg/logger"
)

const (
	defaultPresenceTTL       = 60 * time.Second
	defaultUnansweredTimeout = 60 * time.Second
	defaultRetention         = 30 * 24 * time.Hour

	defaultPresenceSpec = "@every 30s"
	defaultCallSpec     = "@every 15s"
	defaultPurgeSpec    = "@daily"
)

// PresenceExpirer flips stale online users offline.
type PresenceExpirer interface {
	ExpireStale(ctx context.Context, ttl time.Duration) (int, error)
}

// CallSweeper marks calls nobody answered as missed.
type CallSweeper interface {
	SweepUnanswered(ctx context.Context, olderThan time.Duration) (int, error)
}

// NotificationPurger removes read notifications past retention.
type NotificationPurger interface {
	PurgeRead(ctx context.Context, retention time.Duration) (int64, error)
}

// Jobs groups the maintenance targets. A nil member disables its job.
type Jobs struct {
	Presence      PresenceExpirer
	Calls         CallSweeper
	Notifications NotificationPurger
}

// Cleaner coordinates background maintenance: presence expiry, the unanswered call
// sweep and notification retention.
type Cleaner struct {
	jobs Jobs
	cron *cron.Cron
	log  *zap.Logger

	presenceTTL       time.Duration
	unansweredTimeout time.Duration
	retention         time.Duration

	presenceSchedule string
	callSchedule     string
	purgeSchedule    string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithLogger overrides the maintenance logger.
func WithLogger(log *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if log != nil {
			cleaner.log = log
		}
	}
}

// WithPresenceExpiry sets how long a silent user stays online and how often expiry runs.
func WithPresenceExpiry(ttl time.Duration, spec string) Option {
	return func(cleaner *Cleaner) {
		if ttl > 0 {
			cleaner.presenceTTL = ttl
		}
		if spec != "" {
			cleaner.presenceSchedule = spec
		}
	}
}

// WithCallSweep sets how long a call may ring before it is missed and how often the sweep runs.
func WithCallSweep(timeout time.Duration, spec string) Option {
	return func(cleaner *Cleaner) {
		if timeout > 0 {
			cleaner.unansweredTimeout = timeout
		}
		if spec != "" {
			cleaner.callSchedule = spec
		}
	}
}

// WithNotificationRetention sets how long read notifications are kept and how often they are purged.
func WithNotificationRetention(retention time.Duration, spec string) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.retention = retention
		}
		if spec != "" {
			cleaner.purgeSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(jobs Jobs, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		jobs:              jobs,
		presenceTTL:       defaultPresenceTTL,
		unansweredTimeout: defaultUnansweredTimeout,
		retention:         defaultRetention,
		presenceSchedule:  defaultPresenceSpec,
		callSchedule:      defaultCallSpec,
		purgeSchedule:     defaultPurgeSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the enabled jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	registered := 0
	for _, job := range c.schedule() {
		if _, err := c.cron.AddFunc(job.spec, func() {
			if err := job.run(context.Background()); err != nil {
				c.log.Warn(job.name+" failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", job.name, err)
		}
		registered++
	}
	if registered == 0 {
		return nil
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially and aggregates their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, job := range c.schedule() {
		if err := job.run(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.name, err))
		}
	}
	return errs
}

type job struct {
	name string
	spec string
	run  func(context.Context) error
}

func (c *Cleaner) schedule() []job {
	var jobs []job
	if c.jobs.Presence != nil {
		jobs = append(jobs, job{name: "presence expiry", spec: c.presenceSchedule, run: func(ctx context.Context) error {
			_, err := c.jobs.Presence.ExpireStale(ctx, c.presenceTTL)
			return err
		}})
	}
	if c.jobs.Calls != nil {
		jobs = append(jobs, job{name: "call sweep", spec: c.callSchedule, run: func(ctx context.Context) error {
			_, err := c.jobs.Calls.SweepUnanswered(ctx, c.unansweredTimeout)
			return err
		}})
	}
	if c.jobs.Notifications != nil {
		jobs = append(jobs, job{name: "notification purge", spec: c.purgeSchedule, run: func(ctx context.Context) error {
			removed, err := c.jobs.Notifications.PurgeRead(ctx, c.retention)
			if removed > 0 {
				c.log.Info("purged read notifications", zap.Int64("count", removed))
			}
			return err
		}})
	}
	return jobs
}
