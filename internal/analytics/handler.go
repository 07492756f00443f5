package analytics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
)

// Counter aggregates tickets for an event. *Repository implements it.
type Counter interface {
	CountByEvent(ctx context.Context, eventID uuid.UUID) (TicketCounts, error)
}

// Handler handles GET /events/:id/stats.
type Handler struct {
	counter Counter
	logger  *zap.Logger
}

// NewHandler creates an analytics handler.
func NewHandler(counter Counter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{counter: counter, logger: logger}
}

// Summarize builds stats for e from raw counts.
func Summarize(e *models.Event, tc TicketCounts) models.EventStats {
	s := models.EventStats{
		EventID:     e.ID,
		TicketsSold: tc.Sold,
		Redeemed:    tc.Redeemed,
		NotRedeemed: tc.Sold - tc.Redeemed,
		Revenue:     tc.Revenue,
		Capacity:    e.Capacity,
	}
	if tc.Sold > 0 {
		s.CheckInRatio = float64(tc.Redeemed) / float64(tc.Sold)
	}
	return s
}

// GetByEvent handles GET /events/:id/stats. Owner or admin access is enforced by
// events.RequireEventAccess on the route.
func (h *Handler) GetByEvent(c *gin.Context) {
	e := events.CurrentEvent(c)
	tc, err := h.counter.CountByEvent(c.Request.Context(), e.ID)
	if err != nil {
		h.logger.Error("count tickets", zap.Error(err), zap.String("event_id", e.ID.String()))
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, Summarize(e, tc))
}
