package analytics

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TicketCounts are the raw aggregates behind an event's stats.
type TicketCounts struct {
	Sold     int
	Redeemed int
	Revenue  int64
}

// Repository reads ticket aggregates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an analytics repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CountByEvent returns sold and redeemed ticket counts and revenue for an event.
// Revenue sums the price snapshot on each ticket, not the current event price.
func (r *Repository) CountByEvent(ctx context.Context, eventID uuid.UUID) (TicketCounts, error) {
	const q = `SELECT COUNT(*), COUNT(*) FILTER (WHERE redeemed), COALESCE(SUM(ticket_price), 0)
		FROM tickets WHERE event_id = $1`
	var tc TicketCounts
	err := r.pool.QueryRow(ctx, q, eventID).Scan(&tc.Sold, &tc.Redeemed, &tc.Revenue)
	return tc, err
}
