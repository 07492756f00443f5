package tickets

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/database"
)

const ticketColumns = `id, user_id, event_id, payment_intent_id, holder_name, holder_email, holder_phone,
	event_name, event_date, event_time, event_location, ticket_price, qr, redeemed, redeemed_at, redeemed_by,
	reminder_sent_at, created_at`

// Unique constraints on tickets, see migrations.
const (
	constraintTicketID = "tickets_pkey"
	constraintPayment  = "tickets_payment_intent_key"
)

// Repository handles ticket persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a ticket repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.UserID, &t.EventID, &t.PaymentIntentID, &t.HolderName, &t.HolderEmail, &t.HolderPhone,
		&t.EventName, &t.EventDate, &t.EventTime, &t.EventLocation, &t.TicketPrice, &t.QR, &t.Redeemed, &t.RedeemedAt,
		&t.RedeemedBy, &t.ReminderSentAt, &t.CreatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Insert writes a complete, unredeemed ticket and fills CreatedAt.
func (r *Repository) Insert(ctx context.Context, t *models.Ticket) error {
	const q = `INSERT INTO tickets (id, user_id, event_id, payment_intent_id, holder_name, holder_email, holder_phone,
		event_name, event_date, event_time, event_location, ticket_price, qr)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, q, t.ID, t.UserID, t.EventID, t.PaymentIntentID, t.HolderName, t.HolderEmail,
		t.HolderPhone, t.EventName, t.EventDate, t.EventTime, t.EventLocation, t.TicketPrice, t.QR).Scan(&t.CreatedAt)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case constraintTicketID:
				return ErrDuplicateID
			case constraintPayment:
				return ErrDuplicatePayment
			}
		}
		return err
	}
	return nil
}

// GetByID returns a ticket by id.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
}

// GetByPaymentIntent returns the ticket issued for a payment.
func (r *Repository) GetByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE payment_intent_id = $1`, paymentIntentID))
}

// MarkRedeemed is the single conditional write behind redemption. Concurrent callers
// race on the WHERE clause; exactly one sees ok=true.
func (r *Repository) MarkRedeemed(ctx context.Context, id string, at time.Time, by uuid.UUID) (*models.Ticket, bool, error) {
	const q = `UPDATE tickets SET redeemed = TRUE, redeemed_at = $2, redeemed_by = $3
		WHERE id = $1 AND redeemed = FALSE RETURNING ` + ticketColumns
	t, err := scanTicket(r.pool.QueryRow(ctx, q, id, at, by))
	if errors.Is(err, ErrTicketNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// UpdateQR replaces the stored QR image.
func (r *Repository) UpdateQR(ctx context.Context, id, qr string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET qr = $2 WHERE id = $1`, id, qr)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// ListByUser returns a user's tickets, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

// ListByEvent returns an event's tickets for door staff, by holder name.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 ORDER BY holder_name, id`, eventID)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Ticket, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// DeleteUnredeemed removes a ticket that has not been checked in.
func (r *Repository) DeleteUnredeemed(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1 AND redeemed = FALSE`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a ticket regardless of state.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

// ListDueReminders returns unredeemed tickets without a reminder whose event date falls
// in [from, to], oldest event first.
func (r *Repository) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]models.Ticket, error) {
	return r.list(ctx, `SELECT `+ticketColumns+` FROM tickets
		WHERE redeemed = FALSE AND reminder_sent_at IS NULL AND event_date BETWEEN $1::date AND $2::date
		ORDER BY event_date, created_at LIMIT $3`, from, to, limit)
}

// ClaimReminder stamps reminder_sent_at unless another sweep already did. Only the
// claimant sends the reminder.
func (r *Repository) ClaimReminder(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE tickets SET reminder_sent_at = $2 WHERE id = $1 AND reminder_sent_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
