package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/pkg/logger"
)

// DefaultStoreTimeout bounds every storage round-trip unless the caller's deadline is earlier.
const DefaultStoreTimeout = 10 * time.Second

// Option customises a service.
type Option func(*base)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

// WithLogger overrides the service logger.
func WithLogger(log *zap.Logger) Option {
	return func(b *base) {
		if log != nil {
			b.log = log
		}
	}
}

// WithStoreTimeout overrides DefaultStoreTimeout. Zero or negative disables the bound.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(b *base) {
		b.timeout = timeout
	}
}

// base carries the collaborators shared by every service.
type base struct {
	db      *gorm.DB
	feed    realtime.Publisher
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

func newBase(module string, db *gorm.DB, feed realtime.Publisher, opts []Option) (base, error) {
	if db == nil {
		return base{}, errors.New(module + ": db is required")
	}
	b := base{
		db:      db,
		feed:    feed,
		log:     logger.WithModule(module),
		now:     time.Now,
		timeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b, nil
}

// bound returns a context limited by the store timeout.
func (b *base) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = ensureContext(ctx)
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= b.timeout {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

// dbc returns a session bound to ctx.
func (b *base) dbc(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx)
}

func (b *base) clock() time.Time {
	return b.now().UTC()
}

func (b *base) publish(event realtime.ChangeEvent) {
	if b.feed == nil {
		return
	}
	if event.At.IsZero() {
		event.At = b.clock()
	}
	b.feed.Publish(event)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func currentIdentity(ctx context.Context) (auth.Identity, error) {
	id, err := auth.RequireIdentity(ctx)
	if err != nil {
		return auth.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

// newOrderedID returns a time-ordered id so that rows created within the same clock
// tick still sort in insertion order.
func newOrderedID() string {
	return models.NewID()
}

func containsString(values []string, target string) bool {
	if target == "" {
		return false
	}
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
