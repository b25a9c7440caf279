package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/charlesng35/fixhub/internal/models"
	"github.com/charlesng35/fixhub/internal/realtime"
)

const (
	maxAppointmentDescription = 2000
	appointmentDateLayout     = "02/01/2006 15:04"
)

// appointmentTransitions maps a target status to the statuses it may be reached from.
var appointmentTransitions = map[string][]string{
	models.AppointmentStatusAccepted:  {models.AppointmentStatusPending},
	models.AppointmentStatusDeclined:  {models.AppointmentStatusPending},
	models.AppointmentStatusCompleted: {models.AppointmentStatusAccepted},
	models.AppointmentStatusCancelled: {models.AppointmentStatusPending, models.AppointmentStatusAccepted},
}

// RequestAppointmentInput describes an intervention request.
type RequestAppointmentInput struct {
	ProposedDate time.Time
	Description  string
}

// AppointmentService runs the appointment workflow carried by conversation messages.
type AppointmentService struct {
	base
	conversations *ConversationService
	messages      *MessageService
	notifier      Notifier
}

// NewAppointmentService constructs an AppointmentService. notifier may be nil.
func NewAppointmentService(db *gorm.DB, feed realtime.Publisher, conversations *ConversationService, messages *MessageService, notifier Notifier, opts ...Option) (*AppointmentService, error) {
	if conversations == nil || messages == nil {
		return nil, errors.New("appointment service: conversation and message services are required")
	}
	b, err := newBase("appointment service", db, feed, opts)
	if err != nil {
		return nil, err
	}
	return &AppointmentService{base: b, conversations: conversations, messages: messages, notifier: notifier}, nil
}

// Request lets the conversation's client propose an intervention. The request message
// and the pending appointment are written in one transaction.
func (s *AppointmentService) Request(ctx context.Context, conversationID string, input RequestAppointmentInput) (*models.Appointment, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(input.Description)
	if utf8.RuneCountInString(description) > maxAppointmentDescription {
		return nil, badRequest("appointment description exceeds maximum length")
	}
	if input.ProposedDate.IsZero() {
		return nil, badRequest("proposed date is required")
	}
	if input.ProposedDate.Before(s.clock()) {
		return nil, badRequest("proposed date must be in the future")
	}

	conv, err := s.conversations.authorize(ctx, conversationID, id.ID)
	if err != nil {
		return nil, err
	}
	if conv.ClientID != id.ID {
		return nil, ErrForbidden.WithMessage("only the client can request an appointment")
	}
	if conv.Status != models.ConversationStatusActive {
		return nil, ErrConversationClosed
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	content := "Appointment requested for " + input.ProposedDate.UTC().Format(appointmentDateLayout)
	if description != "" {
		content += ": " + description
	}

	var (
		appointment models.Appointment
		msg         models.Message
	)
	err = s.dbc(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		msg, err = s.messages.appendInTx(tx, conv.ID, id.ID, content, models.MessageKindAppointmentRequest)
		if err != nil {
			return err
		}
		appointment = models.Appointment{
			ConversationID:   conv.ID,
			ClientID:         conv.ClientID,
			TechnicianID:     conv.TechnicianID,
			ProposedDate:     input.ProposedDate.UTC(),
			Description:      description,
			Status:           models.AppointmentStatusPending,
			RequestMessageID: msg.ID,
		}
		return tx.Create(&appointment).Error
	})
	if err != nil {
		return nil, storageError("appointment service: request", err)
	}

	s.messages.afterAppend(ctx, id, conv, msg)
	s.publishAppointment(realtime.EventInsert, appointment)
	s.notify(ctx, conv.TechnicianID, models.NotificationTypeRequest, "New appointment request from "+counterpartName(id), appointment)
	return &appointment, nil
}

// Respond lets the technician accept or decline a pending request.
func (s *AppointmentService) Respond(ctx context.Context, appointmentID string, accept bool) (*models.Appointment, error) {
	target := models.AppointmentStatusDeclined
	if accept {
		target = models.AppointmentStatusAccepted
	}
	return s.transition(ctx, appointmentID, target, true)
}

// Complete marks an accepted appointment as done. Technician only.
func (s *AppointmentService) Complete(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	return s.transition(ctx, appointmentID, models.AppointmentStatusCompleted, true)
}

// Cancel withdraws a pending or accepted appointment. Either party may cancel.
func (s *AppointmentService) Cancel(ctx context.Context, appointmentID string) (*models.Appointment, error) {
	return s.transition(ctx, appointmentID, models.AppointmentStatusCancelled, false)
}

// ListForConversation returns the conversation's appointments, soonest first.
func (s *AppointmentService) ListForConversation(ctx context.Context, conversationID string) ([]models.Appointment, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.authorize(ctx, conversationID, id.ID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []models.Appointment
	if err := s.dbc(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("proposed_date ASC").Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, storageError("appointment service: list", err)
	}
	return rows, nil
}

func (s *AppointmentService) transition(ctx context.Context, appointmentID, target string, technicianOnly bool) (*models.Appointment, error) {
	id, err := currentIdentity(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var appointment models.Appointment
	if err := s.dbc(ctx).Take(&appointment, "id = ?", strings.TrimSpace(appointmentID)).Error; err != nil {
		return nil, notFoundOr("appointment service: load", err)
	}
	if id.ID != appointment.ClientID && id.ID != appointment.TechnicianID {
		return nil, ErrForbidden
	}
	if technicianOnly && id.ID != appointment.TechnicianID {
		return nil, ErrForbidden.WithMessage("only the technician can do this")
	}

	sources := appointmentTransitions[target]
	if !containsString(sources, appointment.Status) {
		return nil, ErrConflict.WithMessage(fmt.Sprintf("appointment cannot move from %s to %s", appointment.Status, target))
	}

	conv, err := s.conversations.authorize(ctx, appointment.ConversationID, id.ID)
	if err != nil {
		return nil, err
	}

	respond := target == models.AppointmentStatusAccepted || target == models.AppointmentStatusDeclined
	var msg models.Message
	err = s.dbc(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Appointment{}).
			Where("id = ? AND status IN ?", appointment.ID, sources).
			Update("status", target)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrConflict.WithMessage("appointment changed concurrently")
		}
		if !respond {
			return nil
		}
		var err error
		msg, err = s.messages.appendInTx(tx, conv.ID, id.ID, responseText(target, appointment.ProposedDate), models.MessageKindAppointmentResponse)
		return err
	})
	if err != nil {
		return nil, storageError("appointment service: "+target, err)
	}
	appointment.Status = target

	if respond {
		s.messages.afterAppend(ctx, id, conv, msg)
	}
	s.publishAppointment(realtime.EventUpdate, appointment)

	recipient := appointment.ClientID
	if id.ID == appointment.ClientID {
		recipient = appointment.TechnicianID
	}
	s.notify(ctx, recipient, models.NotificationTypeAppointment, "Appointment "+target+" by "+counterpartName(id), appointment)
	return &appointment, nil
}

func (s *AppointmentService) notify(ctx context.Context, userID, kind, title string, appointment models.Appointment) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyAsync(ctx, NotifyInput{
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Message:   "Proposed for " + appointment.ProposedDate.Format(appointmentDateLayout),
		RelatedID: appointment.ID,
		Metadata:  map[string]any{"conversation_id": appointment.ConversationID, "status": appointment.Status},
	})
}

func (s *AppointmentService) publishAppointment(eventType realtime.EventType, appointment models.Appointment) {
	s.publish(realtime.ChangeEvent{
		Table:          realtime.TableAppointments,
		Type:           eventType,
		ConversationID: appointment.ConversationID,
		UserIDs:        []string{appointment.ClientID, appointment.TechnicianID},
		Record:         appointment,
	})
}

func responseText(status string, proposed time.Time) string {
	when := proposed.UTC().Format(appointmentDateLayout)
	if status == models.AppointmentStatusAccepted {
		return "Appointment accepted for " + when
	}
	return "Appointment declined for " + when
}
