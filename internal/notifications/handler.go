package notifications

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/internal/tickets"
	"github.com/eventems/backend/pkg/response"
)

// Lister lists an event's notification logs. *Repository implements it.
type Lister interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.NotificationLog, error)
}

// TicketGetter loads a ticket for resending. A missing ticket is tickets.ErrTicketNotFound.
type TicketGetter interface {
	GetByID(ctx context.Context, id string) (*models.Ticket, error)
}

// Handler handles notification log endpoints.
type Handler struct {
	logs       Lister
	tickets    TicketGetter
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewHandler creates a notification log handler.
func NewHandler(logs Lister, tickets TicketGetter, dispatcher *Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, tickets: tickets, dispatcher: dispatcher, logger: logger}
}

// ListByEvent handles GET /events/:id/notifications. Access is enforced by
// events.RequireEventAccess on the route.
func (h *Handler) ListByEvent(c *gin.Context) {
	e := events.CurrentEvent(c)
	logs, err := h.logs.ListByEvent(c.Request.Context(), e.ID)
	if err != nil {
		h.logger.Error("list notification logs", zap.Error(err), zap.String("event_id", e.ID.String()))
		response.Internal(c, "failed to load notification logs")
		return
	}
	response.OK(c, logs)
}

// ResendRequest is the body for POST /events/:id/notifications/resend.
type ResendRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
}

// Resend handles POST /events/:id/notifications/resend: queues the ticket SMS again.
func (h *Handler) Resend(c *gin.Context) {
	e := events.CurrentEvent(c)
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "ticket_id required")
		return
	}
	id := tickets.NormalizeID(req.TicketID)
	t, err := h.tickets.GetByID(c.Request.Context(), id)
	if err != nil && !errors.Is(err, tickets.ErrTicketNotFound) {
		h.logger.Error("load ticket for resend", zap.Error(err), zap.String("ticket_id", id))
		response.Internal(c, "failed to load ticket")
		return
	}
	if err != nil || t.EventID != e.ID {
		response.NotFound(c, "ticket not found for this event")
		return
	}
	if err := h.dispatcher.TicketIssued(c.Request.Context(), t); err != nil {
		h.logger.Warn("resend ticket sms", zap.Error(err), zap.String("ticket_id", t.ID))
		response.ServiceUnavailable(c, "could not queue notification")
		return
	}
	response.OK(c, gin.H{"message": "notification queued"})
}
