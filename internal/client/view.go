// Package client holds the per-user state machines that sit between a UI and the
// conversation services: the conversation view model, the call controller and the
// presence heartbeat.
package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/charlesng35/fixhub/internal/auth"
	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
	"github.com/charlesng35/fixhub/internal/services"
	"github.com/charlesng35/fixhub/pkg/logger"
)

// ErrViewClosed is returned by a view that was closed or never opened.
var ErrViewClosed = errors.New("client: conversation view is closed")

// ConversationReader loads conversations.
type ConversationReader interface {
	Get(ctx context.Context, conversationID string) (*models.Conversation, error)
}

// MessageStore appends, lists and marks messages.
type MessageStore interface {
	Send(ctx context.Context, input services.SendMessageInput) (*models.Message, error)
	List(ctx context.Context, conversationID string, input services.ListMessagesInput) ([]models.Message, error)
	MarkRead(ctx context.Context, conversationID string) (int64, error)
}

// PresenceReader reads a user's presence.
type PresenceReader interface {
	Get(ctx context.Context, userID string) (*services.Presence, error)
}

// CallLister lists the calls of a conversation, newest first.
type CallLister interface {
	ListForConversation(ctx context.Context, conversationID string) ([]models.Call, error)
}

// AppointmentLister lists the appointments of a conversation.
type AppointmentLister interface {
	ListForConversation(ctx context.Context, conversationID string) ([]models.Appointment, error)
}

// ViewDeps are the collaborators of a ConversationView.
type ViewDeps struct {
	Conversations ConversationReader
	Messages      MessageStore
	Presence      PresenceReader
	Calls         CallLister
	Appointments  AppointmentLister
	Feed          realtime.Feed
	Logger        *zap.Logger
}

// ViewMessage is a message as shown in the view. Pending messages have been sent
// optimistically and not yet confirmed by the store.
type ViewMessage struct {
	models.Message
	Pending bool `json:"pending"`
	Failed  bool `json:"failed"`
}

var conversationTables = []realtime.Table{
	realtime.TableMessages,
	realtime.TableCalls,
	realtime.TableAppointments,
}

// ConversationView is the live state of one conversation for one user. All state is
// owned by a single actor goroutine that applies feed events in receipt order.
type ConversationView struct {
	deps ViewDeps
	log  *zap.Logger

	// fixed after Open
	ctx          context.Context
	cancel       context.CancelFunc
	identity     auth.Identity
	conversation models.Conversation

	cmds    chan func()
	stopped chan struct{}
	bg      sync.WaitGroup

	// owned by the actor
	messages     []ViewMessage
	byID         map[string]int
	contact      services.Presence
	activeCall   *models.Call
	appointments map[string]models.Appointment
	convSub      *realtime.Subscription
	contactSub   *realtime.Subscription
}

// NewConversationView validates deps and returns an unopened view.
func NewConversationView(deps ViewDeps) (*ConversationView, error) {
	if deps.Conversations == nil || deps.Messages == nil || deps.Presence == nil ||
		deps.Calls == nil || deps.Appointments == nil || deps.Feed == nil {
		return nil, errors.New("client: conversation view requires services and a feed")
	}
	log := deps.Logger
	if log == nil {
		log = logger.WithModule("client.view")
	}
	return &ConversationView{deps: deps, log: log}, nil
}

// Open loads the conversation for the identity in ctx, marks it read and starts
// following its changes. The view stays live until Close or until ctx ends.
func (v *ConversationView) Open(ctx context.Context, conversationID string) error {
	if v.cmds != nil {
		return errors.New("client: conversation view already opened")
	}
	identity, err := auth.RequireIdentity(ctx)
	if err != nil {
		return err
	}
	conv, err := v.deps.Conversations.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	v.identity = identity
	v.conversation = *conv
	v.byID = make(map[string]int)
	v.appointments = make(map[string]models.Appointment)
	viewCtx, cancel := context.WithCancel(ctx)
	v.ctx = viewCtx

	// Subscribe before loading so nothing published in between is missed; echoes of
	// loaded messages are ignored by id.
	v.subscribe()
	if err := v.reload(); err != nil {
		cancel()
		v.convSub.Close()
		v.contactSub.Close()
		return err
	}

	v.cancel = cancel
	v.cmds = make(chan func())
	v.stopped = make(chan struct{})
	v.markReadAsync()

	go v.run()
	return nil
}

// Conversation returns the conversation record loaded by Open.
func (v *ConversationView) Conversation() models.Conversation {
	return v.conversation
}

// Send appends content optimistically, persists it and reconciles the pending entry
// with the stored message.
func (v *ConversationView) Send(ctx context.Context, content string) (*models.Message, error) {
	ref := uuid.NewString()
	pending := ViewMessage{
		Message: models.Message{
			BaseModel:      models.BaseModel{CreatedAt: time.Now().UTC()},
			ConversationID: v.conversation.ID,
			SenderID:       v.identity.ID,
			Content:        content,
			Kind:           models.MessageKindText,
			ClientRef:      &ref,
		},
		Pending: true,
	}
	if err := v.do(func() { v.messages = append(v.messages, pending) }); err != nil {
		return nil, err
	}

	msg, err := v.deps.Messages.Send(ctx, services.SendMessageInput{
		ConversationID: v.conversation.ID,
		Content:        content,
		ClientRef:      ref,
	})
	if err != nil {
		_ = v.do(func() {
			if i := v.indexOfRef(ref); i >= 0 {
				v.messages[i].Failed = true
			}
		})
		return nil, err
	}

	_ = v.do(func() { v.upsertMessage(*msg) })
	return msg, nil
}

// Messages returns a snapshot of the timeline: the loaded history in store order,
// then live messages in the order they were received.
func (v *ConversationView) Messages() []ViewMessage {
	var out []ViewMessage
	_ = v.do(func() {
		out = append([]ViewMessage(nil), v.messages...)
	})
	return out
}

// ContactStatus describes the counterpart's presence at now.
func (v *ConversationView) ContactStatus(now time.Time) string {
	var contact services.Presence
	_ = v.do(func() { contact = v.contact })
	return services.DescribePresence(contact, now)
}

// Contact returns the counterpart's presence record.
func (v *ConversationView) Contact() services.Presence {
	var contact services.Presence
	_ = v.do(func() { contact = v.contact })
	return contact
}

// ActiveCall returns the conversation's non-terminal call, if any.
func (v *ConversationView) ActiveCall() *models.Call {
	var call *models.Call
	_ = v.do(func() {
		if v.activeCall != nil {
			cpy := *v.activeCall
			call = &cpy
		}
	})
	return call
}

// Appointments returns the conversation's appointments, soonest first.
func (v *ConversationView) Appointments() []models.Appointment {
	var out []models.Appointment
	_ = v.do(func() {
		for _, appointment := range v.appointments {
			out = append(out, appointment)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProposedDate.Equal(out[j].ProposedDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ProposedDate.Before(out[j].ProposedDate)
	})
	return out
}

// Close stops the view and releases its subscriptions. It is safe to call more than once.
func (v *ConversationView) Close() {
	if v.cancel == nil {
		return
	}
	v.cancel()
	<-v.stopped
	v.bg.Wait()
}

// do runs fn on the actor goroutine and waits for it.
func (v *ConversationView) do(fn func()) error {
	if v.cmds == nil {
		return ErrViewClosed
	}
	done := make(chan struct{})
	select {
	case v.cmds <- func() { fn(); close(done) }:
	case <-v.stopped:
		return ErrViewClosed
	}
	<-done
	return nil
}

func (v *ConversationView) run() {
	defer close(v.stopped)
	defer func() {
		v.convSub.Close()
		v.contactSub.Close()
	}()

	for {
		select {
		case <-v.ctx.Done():
			return
		case fn := <-v.cmds:
			fn()
		case event, ok := <-v.convSub.Events():
			if !ok {
				v.resubscribe("conversation")
				continue
			}
			v.apply(event)
		case event, ok := <-v.contactSub.Events():
			if !ok {
				v.resubscribe("contact")
				continue
			}
			v.apply(event)
		}
	}
}

// resubscribe re-establishes both subscriptions after the feed ended one, then reloads
// the snapshot so events missed in between are not lost.
func (v *ConversationView) resubscribe(which string) {
	if v.ctx.Err() != nil {
		return
	}
	v.log.Warn("feed subscription ended, resubscribing",
		zap.String("conversation_id", v.conversation.ID),
		zap.String("subscription", which))

	v.convSub.Close()
	v.contactSub.Close()
	v.subscribe()
	if err := v.reload(); err != nil {
		v.log.Warn("reload after resubscribe failed",
			zap.String("conversation_id", v.conversation.ID),
			zap.Error(err))
	}
}

func (v *ConversationView) subscribe() {
	v.convSub = v.deps.Feed.Subscribe(v.ctx, conversationTables, realtime.Filter{ConversationID: v.conversation.ID})
	v.contactSub = v.deps.Feed.Subscribe(v.ctx, []realtime.Table{realtime.TableUserProfiles},
		realtime.Filter{UserID: v.conversation.Counterpart(v.identity.ID)})
}

// reload replaces the state with the stored snapshot: history, contact presence,
// open call and appointments. Entries the store does not know yet are kept after
// the history in their current order.
func (v *ConversationView) reload() error {
	history, err := v.deps.Messages.List(v.ctx, v.conversation.ID, services.ListMessagesInput{})
	if err != nil {
		return err
	}
	v.loadHistory(history)

	contact, err := v.deps.Presence.Get(v.ctx, v.conversation.Counterpart(v.identity.ID))
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return err
	}
	if contact != nil {
		v.contact = *contact
	}

	calls, err := v.deps.Calls.ListForConversation(v.ctx, v.conversation.ID)
	if err != nil {
		return err
	}
	v.activeCall = nil
	for i := range calls {
		if !calls[i].IsTerminal() {
			call := calls[i]
			v.activeCall = &call
			break
		}
	}

	appointments, err := v.deps.Appointments.ListForConversation(v.ctx, v.conversation.ID)
	if err != nil {
		return err
	}
	v.appointments = make(map[string]models.Appointment, len(appointments))
	for _, appointment := range appointments {
		v.appointments[appointment.ID] = appointment
	}
	return nil
}

func (v *ConversationView) apply(event realtime.ChangeEvent) {
	switch event.Table {
	case realtime.TableMessages:
		if event.Key() == services.EventMessagesRead {
			if read, ok := decodeRecord[services.MessagesRead](event); ok {
				v.applyRead(read)
			}
			return
		}
		msg, ok := decodeRecord[models.Message](event)
		if !ok {
			return
		}
		v.upsertMessage(msg)
		if msg.SenderID != v.identity.ID && !msg.IsRead {
			v.markReadAsync()
		}
	case realtime.TableCalls:
		call, ok := decodeRecord[models.Call](event)
		if !ok {
			return
		}
		switch {
		case !call.IsTerminal():
			v.activeCall = &call
		case v.activeCall != nil && v.activeCall.ID == call.ID:
			v.activeCall = nil
		}
	case realtime.TableUserProfiles:
		if presence, ok := decodeRecord[services.Presence](event); ok {
			v.contact = presence
		}
	case realtime.TableAppointments:
		if appointment, ok := decodeRecord[models.Appointment](event); ok {
			v.appointments[appointment.ID] = appointment
		}
	}
}

// upsertMessage applies a live message. Known ids only refresh the read flag, a
// pending entry with the same client ref is replaced in place, anything else is
// appended. Live messages are never re-sorted.
func (v *ConversationView) upsertMessage(msg models.Message) {
	if i, ok := v.byID[msg.ID]; ok {
		if msg.IsRead && !v.messages[i].IsRead {
			v.messages[i].IsRead = true
			v.messages[i].ReadAt = msg.ReadAt
		}
		return
	}

	entry := ViewMessage{Message: msg}
	if msg.ClientRef != nil {
		if i := v.indexOfRef(*msg.ClientRef); i >= 0 && v.messages[i].ID == "" {
			v.messages[i] = entry
			v.byID[msg.ID] = i
			return
		}
	}
	v.messages = append(v.messages, entry)
	v.byID[msg.ID] = len(v.messages) - 1
}

// loadHistory rebuilds the timeline from a store snapshot ordered by time then id.
// Pending entries confirmed by the snapshot are dropped; the rest follow the history.
func (v *ConversationView) loadHistory(history []models.Message) {
	sorted := append([]models.Message(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	stored := make(map[string]struct{}, len(sorted))
	refs := make(map[string]struct{})
	timeline := make([]ViewMessage, 0, len(sorted)+len(v.messages))
	for _, msg := range sorted {
		stored[msg.ID] = struct{}{}
		if msg.ClientRef != nil {
			refs[*msg.ClientRef] = struct{}{}
		}
		timeline = append(timeline, ViewMessage{Message: msg})
	}
	for _, entry := range v.messages {
		if entry.ID != "" {
			if _, ok := stored[entry.ID]; ok {
				continue
			}
		} else if entry.ClientRef != nil {
			if _, ok := refs[*entry.ClientRef]; ok {
				continue
			}
		}
		timeline = append(timeline, entry)
	}

	v.messages = timeline
	v.byID = make(map[string]int, len(timeline))
	for i, msg := range timeline {
		if msg.ID != "" {
			v.byID[msg.ID] = i
		}
	}
}

func (v *ConversationView) indexOfRef(ref string) int {
	for i, msg := range v.messages {
		if msg.ClientRef != nil && *msg.ClientRef == ref {
			return i
		}
	}
	return -1
}

func (v *ConversationView) markReadAsync() {
	v.bg.Add(1)
	go func() {
		defer v.bg.Done()
		if _, err := v.deps.Messages.MarkRead(v.ctx, v.conversation.ID); err != nil && v.ctx.Err() == nil {
			v.log.Warn("mark read failed",
				zap.String("conversation_id", v.conversation.ID),
				zap.Error(err))
		}
	}()
}
