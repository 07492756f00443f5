package payments

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
)

// IntentCreator creates payment intents. *Stripe implements it.
type IntentCreator interface {
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// EventStore is what the handler reads about events.
type EventStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	CountTickets(ctx context.Context, id uuid.UUID) (int, error)
}

// CreateIntentRequest is the body for POST /payments/intents.
type CreateIntentRequest struct {
	EventID string `json:"event_id" binding:"required,uuid"`
}

// CreateIntentResponse is returned to the client, which completes the card payment with ClientSecret.
type CreateIntentResponse struct {
	*Intent
	AmountVND int64 `json:"amount_vnd"`
}

// Handler handles payment endpoints.
type Handler struct {
	intents IntentCreator
	events  EventStore
	logger  *zap.Logger
}

// NewHandler creates a payment handler. intents may be nil when Stripe is not configured.
func NewHandler(intents IntentCreator, events EventStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{intents: intents, events: events, logger: logger}
}

// CreateIntent handles POST /payments/intents. Capacity is checked here, before the
// buyer is charged; issuance never refuses a paid ticket.
func (h *Handler) CreateIntent(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	eventID := uuid.MustParse(req.EventID)
	ctx := c.Request.Context()

	e, err := h.events.GetByID(ctx, eventID)
	if err != nil || !e.IsApproved {
		response.NotFound(c, "event not found")
		return
	}
	if e.TicketPrice == 0 {
		response.BadRequest(c, "event is free; request a ticket directly")
		return
	}
	if e.Capacity > 0 {
		sold, err := h.events.CountTickets(ctx, e.ID)
		if err != nil {
			h.logger.Error("count tickets", zap.Error(err), zap.String("event_id", e.ID.String()))
			response.Internal(c, "failed to check availability")
			return
		}
		if sold >= e.Capacity {
			response.Conflict(c, "event is sold out")
			return
		}
	}
	if h.intents == nil {
		response.ServiceUnavailable(c, "payments are not configured")
		return
	}

	p := middleware.CurrentPrincipal(c)
	intent, err := h.intents.CreateIntent(ctx, IntentRequest{
		EventID:  e.ID.String(),
		UserID:   p.UserID.String(),
		PriceVND: e.TicketPrice,
	})
	if err != nil {
		if errors.Is(err, ErrAmountTooSmall) {
			response.BadRequest(c, "ticket price is below the card processor minimum")
			return
		}
		h.logger.Error("create payment intent", zap.Error(err), zap.String("event_id", e.ID.String()))
		response.Fail(c, http.StatusBadGateway, "payment processor unavailable", nil)
		return
	}
	response.Created(c, CreateIntentResponse{Intent: intent, AmountVND: e.TicketPrice})
}
