package tickets

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/pkg/response"
)

// IssueTicketRequest is the body for POST /tickets. payment_intent_id may be empty for free events.
type IssueTicketRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
	EventID         string `json:"event_id" binding:"required,uuid"`
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email" binding:"required"`
	Phone           string `json:"phone" binding:"required"`
}

// VerifyRequest is the body for POST /verify-ticket: a typed id or scanned QR text.
type VerifyRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// UpdateQRRequest is the optional body for PUT /tickets/:id/update-qr.
type UpdateQRRequest struct {
	QR string `json:"qr"`
}

// Handler handles ticket and verification endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a ticket handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Issue handles POST /tickets.
func (h *Handler) Issue(c *gin.Context) {
	var req IssueTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Issue(c.Request.Context(), IssueRequest{
		PaymentIntentID: req.PaymentIntentID,
		EventID:         uuid.MustParse(req.EventID),
		UserID:          c.MustGet(middleware.ContextUserID).(uuid.UUID),
		Buyer:           Buyer{Name: req.Name, Email: req.Email, Phone: req.Phone},
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	switch {
	case res.Replayed:
		response.OK(c, res.Ticket)
	case res.NotificationWarning != "":
		response.CreatedWithWarning(c, res.Ticket, res.NotificationWarning)
	default:
		response.Created(c, res.Ticket)
	}
}

// ListMine handles GET /tickets/mine.
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.svc.ListMine(c.Request.Context(), c.MustGet(middleware.ContextUserID).(uuid.UUID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// ListByEvent handles GET /events/:id/tickets, the door list. Access is enforced by
// events.RequireEventAccess on the route.
func (h *Handler) ListByEvent(c *gin.Context) {
	list, err := h.svc.ListByEvent(c.Request.Context(), events.CurrentEvent(c).ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /tickets/:id.
func (h *Handler) Get(c *gin.Context) {
	t, err := h.svc.Get(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, t)
}

// Delete handles DELETE /tickets/:id.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}

// UpdateQR handles PUT /tickets/:id/update-qr.
func (h *Handler) UpdateQR(c *gin.Context) {
	var req UpdateQRRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	t, err := h.svc.AttachQR(c.Request.Context(), middleware.CurrentPrincipal(c), c.Param("id"), req.QR)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, t)
}

// Verify handles POST /verify-ticket.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "identifier required")
		return
	}
	h.redeem(c, req.Identifier)
}

// VerifyByID handles GET /verify-ticket/:id.
func (h *Handler) VerifyByID(c *gin.Context) {
	h.redeem(c, c.Param("id"))
}

func (h *Handler) redeem(c *gin.Context, identifier string) {
	staffID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	res, err := h.svc.Redeem(c.Request.Context(), identifier, staffID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	switch res.Status {
	case StatusValid:
		response.OK(c, res)
	case StatusNotFound:
		response.Fail(c, http.StatusNotFound, "ticket not found", res)
	case StatusAlreadyRedeemed:
		response.Fail(c, http.StatusBadRequest, "ticket already redeemed", res)
	case StatusEventEnded:
		response.Fail(c, http.StatusBadRequest, "event has ended", res)
	}
}

// writeError maps service errors onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	if middleware.AbortWithAccessError(c, err) {
		return
	}
	var ve *ValidationError
	var pse *PaymentStatusError
	switch {
	case errors.As(err, &ve):
		response.Fail(c, http.StatusBadRequest, ve.Error(), gin.H{"field": ve.Field})
	case errors.As(err, &pse):
		response.Fail(c, http.StatusPaymentRequired, ErrPaymentNotConfirmed.Error(), gin.H{"payment_status": pse.Status})
	case errors.Is(err, ErrPaymentNotConfirmed):
		response.PaymentRequired(c, err.Error())
	case errors.Is(err, ErrPaymentMismatch), errors.Is(err, ErrEventNotApproved), errors.Is(err, ErrQRMismatch):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrPaymentUnavailable):
		h.logger.Error("payment processor", zap.Error(err))
		response.Fail(c, http.StatusBadGateway, ErrPaymentUnavailable.Error(), nil)
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrTicketNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrTicketRedeemed):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("ticket request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error")
	}
}
