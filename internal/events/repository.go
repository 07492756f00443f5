package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/database"
)

var ErrEventNotFound = errors.New("event not found")

const eventColumns = `id, owner_id, title, description, event_date, event_time, location, ticket_price,
	capacity, category, organized_by, image_url, is_approved, likes, created_at, updated_at`

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an event repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.OwnerID, &e.Title, &e.Description, &e.EventDate, &e.EventTime, &e.Location,
		&e.TicketPrice, &e.Capacity, &e.Category, &e.OrganizedBy, &e.ImageURL, &e.IsApproved, &e.Likes,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Create inserts e and fills its timestamps. A nil ID is generated.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	const q = `INSERT INTO events (id, owner_id, title, description, event_date, event_time, location, ticket_price,
		capacity, category, organized_by, image_url, is_approved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.ID, e.OwnerID, e.Title, e.Description, e.EventDate, e.EventTime, e.Location,
		e.TicketPrice, e.Capacity, e.Category, e.OrganizedBy, e.ImageURL, e.IsApproved).Scan(&e.CreatedAt, &e.UpdatedAt)
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
}

// ListFilter narrows List. The zero value lists every event.
type ListFilter struct {
	ApprovedOnly bool
	OwnerID      *uuid.UUID
}

// List returns events matching f, latest event date first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events WHERE ($1::boolean = FALSE OR is_approved)
		AND ($2::uuid IS NULL OR owner_id = $2) ORDER BY event_date DESC, created_at DESC`
	rows, err := r.pool.Query(ctx, q, f.ApprovedOnly, f.OwnerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// UpdateParams holds the fields PATCH may change; nil leaves a field as is.
type UpdateParams struct {
	Title       *string
	Description *string
	EventDate   *time.Time
	EventTime   *string
	Location    *string
	TicketPrice *int64
	Capacity    *int
	Category    *string
	OrganizedBy *string
	ImageURL    *string
}

// Update applies p to the event and returns the result. Issued tickets keep their snapshot.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*models.Event, error) {
	const q = `UPDATE events SET
		title = COALESCE($2, title),
		description = COALESCE($3, description),
		event_date = COALESCE($4, event_date),
		event_time = COALESCE($5, event_time),
		location = COALESCE($6, location),
		ticket_price = COALESCE($7, ticket_price),
		capacity = COALESCE($8, capacity),
		category = COALESCE($9, category),
		image_url = COALESCE($10, image_url),
		organized_by = COALESCE($11, organized_by),
		updated_at = NOW()
		WHERE id = $1 RETURNING ` + eventColumns
	return scanEvent(r.pool.QueryRow(ctx, q, id, p.Title, p.Description, p.EventDate, p.EventTime, p.Location,
		p.TicketPrice, p.Capacity, p.Category, p.ImageURL, p.OrganizedBy))
}

// SetApproved sets the approval flag and returns the event.
func (r *Repository) SetApproved(ctx context.Context, id uuid.UUID, approved bool) (*models.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, `UPDATE events SET is_approved = $2, updated_at = NOW()
		WHERE id = $1 RETURNING `+eventColumns, id, approved))
}

// Like adds one like to an approved event and returns the new total. Pending and
// missing events report ErrEventNotFound.
func (r *Repository) Like(ctx context.Context, id uuid.UUID) (int64, error) {
	var likes int64
	err := r.pool.QueryRow(ctx, `UPDATE events SET likes = likes + 1
		WHERE id = $1 AND is_approved RETURNING likes`, id).Scan(&likes)
	if database.IsNoRows(err) {
		return 0, ErrEventNotFound
	}
	return likes, err
}

// Delete removes an event. Its tickets and notification logs cascade.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// CountTickets returns the number of tickets issued for an event.
func (r *Repository) CountTickets(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE event_id = $1`, id).Scan(&n)
	return n, err
}
