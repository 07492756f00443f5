package models

import (
	"time"

	"github.com/google/uuid"
)

// Ticket is an issued ticket. Event fields are a snapshot taken at issuance so the
// ticket still renders after the event is edited. Redeemed goes false->true once.
type Ticket struct {
	ID              string     `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	EventID         uuid.UUID  `json:"event_id"`
	PaymentIntentID string     `json:"payment_intent_id"`
	HolderName      string     `json:"holder_name"`
	HolderEmail     string     `json:"holder_email"`
	HolderPhone     string     `json:"holder_phone"`
	EventName       string     `json:"event_name"`
	EventDate       time.Time  `json:"event_date"`
	EventTime       string     `json:"event_time"`
	EventLocation   string     `json:"event_location"`
	TicketPrice     int64      `json:"ticket_price"`
	QR              string     `json:"qr"`
	Redeemed        bool       `json:"redeemed"`
	RedeemedAt      *time.Time `json:"redeemed_at,omitempty"`
	RedeemedBy      *uuid.UUID `json:"redeemed_by,omitempty"`
	ReminderSentAt  *time.Time `json:"reminder_sent_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
