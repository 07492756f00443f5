package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/database"
)

var ErrLogNotFound = errors.New("notification log not found")

// Repository handles notification_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification log repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreatePending inserts l with status pending and fills its ID and CreatedAt.
func (r *Repository) CreatePending(ctx context.Context, l *models.NotificationLog) error {
	const q = `INSERT INTO notification_logs (event_id, ticket_id, kind, recipient, body, status)
		VALUES ($1, $2, $3, $4, $5, 'pending') RETURNING id, created_at`
	l.Status = models.NotificationStatusPending
	return r.pool.QueryRow(ctx, q, l.EventID, l.TicketID, l.Kind, l.Recipient, l.Body).Scan(&l.ID, &l.CreatedAt)
}

// MarkSent records a successful hand-off to the SMS provider.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, providerID string, sentAt time.Time) error {
	return r.setStatus(ctx, `UPDATE notification_logs SET status = 'sent', provider_id = NULLIF($2, ''),
		sent_at = $3, error_message = NULL WHERE id = $1`, id, providerID, sentAt)
}

// MarkFailed records a delivery failure.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return r.setStatus(ctx, `UPDATE notification_logs SET status = 'failed', error_message = $2 WHERE id = $1`, id, reason)
}

func (r *Repository) setStatus(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLogNotFound
	}
	return nil
}

// ListByEvent returns notification logs for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.NotificationLog, error) {
	const q = `SELECT id, event_id, ticket_id, kind, recipient, body, status, provider_id, sent_at, error_message, created_at
		FROM notification_logs
		WHERE event_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.NotificationLog{}
	for rows.Next() {
		var l models.NotificationLog
		var providerID, errMsg *string
		if err := rows.Scan(&l.ID, &l.EventID, &l.TicketID, &l.Kind, &l.Recipient, &l.Body, &l.Status,
			&providerID, &l.SentAt, &errMsg, &l.CreatedAt); err != nil {
			return nil, err
		}
		if providerID != nil {
			l.ProviderID = *providerID
		}
		if errMsg != nil {
			l.ErrorMessage = *errMsg
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}

// GetByID returns one log row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.NotificationLog, error) {
	const q = `SELECT id, event_id, ticket_id, kind, recipient, body, status, COALESCE(provider_id, ''),
		sent_at, COALESCE(error_message, ''), created_at FROM notification_logs WHERE id = $1`
	var l models.NotificationLog
	err := r.pool.QueryRow(ctx, q, id).Scan(&l.ID, &l.EventID, &l.TicketID, &l.Kind, &l.Recipient, &l.Body,
		&l.Status, &l.ProviderID, &l.SentAt, &l.ErrorMessage, &l.CreatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrLogNotFound
		}
		return nil, err
	}
	return &l, nil
}
