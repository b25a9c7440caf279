package realtime

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/fixhub/pkg/logger"
	"github.com/charlesng35/fixhub/pkg/metrics"
)

// Table names a collection whose changes are published on the feed.
type Table string

// Tables published by the conversation core.
const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableCalls         Table = "calls"
	TableCallSignals   Table = "call_signals"
	TableAppointments  Table = "appointments"
	TableUserProfiles  Table = "user_profiles"
	TableNotifications Table = "notifications"
)

// EventType distinguishes row inserts from updates.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// ChangeEvent describes one committed write.
type ChangeEvent struct {
	Seq   uint64    `json:"seq"`
	Table Table     `json:"table"`
	Type  EventType `json:"type"`
	// Name refines Type for updates that are not plain row changes, e.g. "message.read".
	Name           string    `json:"name,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	UserIDs        []string  `json:"user_ids,omitempty"`
	Record         any       `json:"record"`
	At             time.Time `json:"at"`
}

// Key returns "<table>.<name or type>", the event name used on the wire.
func (e ChangeEvent) Key() string {
	if e.Name != "" {
		return e.Name
	}
	return string(e.Table) + "." + string(e.Type)
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	ConversationID string
	UserID         string
}

func (f Filter) matches(event ChangeEvent) bool {
	if f.ConversationID != "" && f.ConversationID != event.ConversationID {
		return false
	}
	if f.UserID != "" {
		for _, id := range event.UserIDs {
			if id == f.UserID {
				return true
			}
		}
		return false
	}
	return true
}

// Publisher is the write side of the feed used by services.
type Publisher interface {
	Publish(event ChangeEvent)
}

// Feed is the full change feed contract.
type Feed interface {
	Publisher
	Subscribe(ctx context.Context, tables []Table, filter Filter) *Subscription
}

// BrokerOption customises a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber buffer. Subscribers that fall this far behind are dropped.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) {
		if size > 0 {
			b.bufferSize = size
		}
	}
}

// WithBrokerLogger overrides the broker logger.
func WithBrokerLogger(log *zap.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithBrokerClock overrides the clock used to stamp events.
func WithBrokerClock(now func() time.Time) BrokerOption {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// Broker is the in-process change feed. Delivery to each subscriber follows publish
// order; a subscriber whose buffer is full is dropped and its stream closed.
type Broker struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription
	nextID     uint64
	seq        uint64
	bufferSize int
	log        *zap.Logger
	now        func() time.Time
}

// NewBroker constructs an empty broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subs:       make(map[uint64]*Subscription),
		bufferSize: defaultFeedBuffer,
		log:        logger.WithModule("realtime.feed"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish stamps event and fans it out to matching subscribers.
func (b *Broker) Publish(event ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	event.Seq = b.seq
	if event.At.IsZero() {
		event.At = b.now()
	}

	for id, sub := range b.subs {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.events <- event:
		default:
			b.log.Warn("dropping slow subscriber",
				zap.Uint64("subscription", id),
				zap.String("table", string(event.Table)))
			sub.dropped = true
			b.removeLocked(id)
			metrics.FeedDropped.Inc()
		}
	}
}

// Subscribe registers interest in tables (all tables when empty) matching filter.
// The subscription ends when ctx is cancelled or Close is called.
func (b *Broker) Subscribe(ctx context.Context, tables []Table, filter Filter) *Subscription {
	sub := &Subscription{
		broker: b,
		filter: filter,
		events: make(chan ChangeEvent, b.bufferSize),
		done:   make(chan struct{}),
	}
	if len(tables) > 0 {
		sub.tables = make(map[Table]struct{}, len(tables))
		for _, table := range tables {
			sub.tables[table] = struct{}{}
		}
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subs[sub.id] = sub
	b.mu.Unlock()
	metrics.FeedSubscribers.Inc()

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) removeLocked(id uint64) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)
	close(sub.events)
	close(sub.done)
	metrics.FeedSubscribers.Dec()
}

// Subscription is a cancellable stream of change events.
type Subscription struct {
	id      uint64
	broker  *Broker
	tables  map[Table]struct{}
	filter  Filter
	events  chan ChangeEvent
	done    chan struct{}
	dropped bool
}

// Events returns the event stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan ChangeEvent {
	return s.events
}

// Done is closed when the subscription ends for any reason.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports whether the broker ended the subscription because it fell behind.
func (s *Subscription) Dropped() bool {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.broker.removeLocked(s.id)
}

func (s *Subscription) wants(event ChangeEvent) bool {
	if s.tables != nil {
		if _, ok := s.tables[event.Table]; !ok {
			return false
		}
	}
	return s.filter.matches(event)
}
