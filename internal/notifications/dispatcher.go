// Package notifications records outbound SMS and hands them to the worker queue.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/queue"
)

// LogStore persists notification logs. *Repository implements it.
type LogStore interface {
	CreatePending(ctx context.Context, l *models.NotificationLog) error
	MarkSent(ctx context.Context, id uuid.UUID, providerID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Enqueuer hands SMS jobs to the worker. *queue.Queue implements it.
type Enqueuer interface {
	EnqueueSMS(ctx context.Context, payload queue.SMSPayload) error
}

// Dispatcher logs and enqueues ticket SMS. Delivery itself happens in the worker.
type Dispatcher struct {
	logs   LogStore
	queue  Enqueuer
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(logs LogStore, q Enqueuer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logs: logs, queue: q, logger: logger}
}

// IssuedMessage is the SMS sent when a ticket is issued.
func IssuedMessage(t *models.Ticket) string {
	return fmt.Sprintf("Hi %s, your ticket %s for %s on %s %s is confirmed. Show the QR code at the entrance.",
		t.HolderName, t.ID, t.EventName, t.EventDate.Format(models.DateLayout), t.EventTime)
}

// ReminderMessage is the SMS sent ahead of the event.
func ReminderMessage(t *models.Ticket) string {
	where := ""
	if t.EventLocation != "" {
		where = " at " + t.EventLocation
	}
	return fmt.Sprintf("Reminder: %s is on %s %s%s. Ticket %s.",
		t.EventName, t.EventDate.Format(models.DateLayout), t.EventTime, where, t.ID)
}

// TicketIssued notifies the holder of a newly issued ticket.
func (d *Dispatcher) TicketIssued(ctx context.Context, t *models.Ticket) error {
	return d.Send(ctx, models.NotificationTicketIssued, t, IssuedMessage(t))
}

// EventReminder notifies the holder that the event is coming up.
func (d *Dispatcher) EventReminder(ctx context.Context, t *models.Ticket) error {
	return d.Send(ctx, models.NotificationEventReminder, t, ReminderMessage(t))
}

// Send records a pending log and enqueues the SMS. If the enqueue fails the log is
// marked failed and the error returned; the caller decides whether that is fatal.
func (d *Dispatcher) Send(ctx context.Context, kind string, t *models.Ticket, body string) error {
	eventID := t.EventID
	ticketID := t.ID
	l := &models.NotificationLog{
		EventID:   &eventID,
		TicketID:  &ticketID,
		Kind:      kind,
		Recipient: t.HolderPhone,
		Body:      body,
	}
	if err := d.logs.CreatePending(ctx, l); err != nil {
		return fmt.Errorf("create notification log: %w", err)
	}
	err := d.queue.EnqueueSMS(ctx, queue.SMSPayload{
		LogID:    l.ID,
		Kind:     kind,
		EventID:  eventID,
		TicketID: ticketID,
		To:       t.HolderPhone,
		Body:     body,
	})
	if err != nil {
		if markErr := d.logs.MarkFailed(ctx, l.ID, "enqueue: "+err.Error()); markErr != nil {
			d.logger.Warn("mark notification failed", zap.Error(markErr), zap.String("log_id", l.ID.String()))
		}
		return fmt.Errorf("enqueue sms: %w", err)
	}
	d.logger.Debug("sms queued", zap.String("kind", kind), zap.String("ticket_id", ticketID))
	return nil
}
