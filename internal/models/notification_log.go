package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification kinds.
const (
	NotificationTicketIssued  = "ticket_issued"
	NotificationEventReminder = "event_reminder"
)

// NotificationStatus for delivery.
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// NotificationLog records one outbound SMS and its delivery outcome.
type NotificationLog struct {
	ID           uuid.UUID  `json:"id"`
	EventID      *uuid.UUID `json:"event_id,omitempty"`
	TicketID     *string    `json:"ticket_id,omitempty"`
	Kind         string     `json:"kind"`
	Recipient    string     `json:"recipient"`
	Body         string     `json:"body"`
	Status       string     `json:"status"`
	ProviderID   string     `json:"provider_id,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
