package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/logger"
)

// DefaultHeartbeatInterval is how often an online client refreshes its presence.
const DefaultHeartbeatInterval = 30 * time.Second

// PresencePublisher records the caller's liveness.
type PresencePublisher interface {
	Publish(ctx context.Context, online bool) (*services.Presence, error)
}

// PresenceHeartbeat keeps the signed-in user's presence fresh: it publishes on start,
// on every connectivity change, periodically while online, and offline on stop.
type PresenceHeartbeat struct {
	presence PresencePublisher
	interval time.Duration
	log      *zap.Logger

	connectivity chan bool
	mu           sync.Mutex
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewPresenceHeartbeat builds a heartbeat. A non-positive interval uses DefaultHeartbeatInterval.
func NewPresenceHeartbeat(presence PresencePublisher, interval time.Duration, log *zap.Logger) (*PresenceHeartbeat, error) {
	if presence == nil {
		return nil, errors.New("client: presence heartbeat requires a presence publisher")
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if log == nil {
		log = logger.WithModule("client.presence")
	}
	return &PresenceHeartbeat{
		presence:     presence,
		interval:     interval,
		log:          log,
		connectivity: make(chan bool, 8),
	}, nil
}

// Start publishes online presence for the identity in ctx and keeps it fresh until
// Stop is called or ctx ends.
func (h *PresenceHeartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return errors.New("client: presence heartbeat already started")
	}
	if _, err := h.presence.Publish(ctx, true); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go h.loop(loopCtx, h.done)
	return nil
}

// Connectivity reports a network change. Going offline pauses the periodic refresh.
func (h *PresenceHeartbeat) Connectivity(online bool) {
	select {
	case h.connectivity <- online:
	default:
		h.log.Debug("connectivity event dropped, heartbeat busy")
	}
}

// Stop ends the heartbeat and publishes offline presence.
func (h *PresenceHeartbeat) Stop() {
	h.mu.Lock()
	cancel, done := h.cancel, h.done
	h.cancel, h.done = nil, nil
	h.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *PresenceHeartbeat) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	online := true
	for {
		select {
		case <-ctx.Done():
			h.publish(context.WithoutCancel(ctx), false)
			return
		case <-ticker.C:
			if online {
				h.publish(ctx, true)
			}
		case online = <-h.connectivity:
			h.publish(ctx, online)
		}
	}
}

func (h *PresenceHeartbeat) publish(ctx context.Context, online bool) {
	if _, err := h.presence.Publish(ctx, online); err != nil {
		h.log.Warn("presence publish failed", zap.Bool("online", online), zap.Error(err))
	}
}
