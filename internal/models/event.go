package models

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire format for event dates.
const DateLayout = "2006-01-02"

// Event is an organizer's event. It is publicly listable only when IsApproved is true.
type Event struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	EventDate   time.Time `json:"event_date"`
	EventTime   string    `json:"event_time"`
	Location    string    `json:"location"`
	TicketPrice int64     `json:"ticket_price"`
	Capacity    int       `json:"capacity"` // 0 means unlimited
	Category    string    `json:"category,omitempty"`
	OrganizedBy string    `json:"organized_by,omitempty"`
	ImageURL    string    `json:"image_url,omitempty"`
	IsApproved  bool      `json:"is_approved"`
	Likes       int64     `json:"likes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventStats summarises ticket sales and check-ins for an event.
type EventStats struct {
	EventID      uuid.UUID `json:"event_id"`
	TicketsSold  int       `json:"tickets_sold"`
	Redeemed     int       `json:"redeemed"`
	NotRedeemed  int       `json:"not_redeemed"`
	Revenue      int64     `json:"revenue"`
	Capacity     int       `json:"capacity"`
	CheckInRatio float64   `json:"check_in_ratio"`
}
