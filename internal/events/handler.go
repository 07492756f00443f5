package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
	"github.com/eventems/backend/pkg/storage"
)

// Store is the event persistence the handlers need. *Repository implements it.
type Store interface {
	EventLoader
	Create(ctx context.Context, e *models.Event) error
	List(ctx context.Context, f ListFilter) ([]models.Event, error)
	Update(ctx context.Context, id uuid.UUID, p UpdateParams) (*models.Event, error)
	SetApproved(ctx context.Context, id uuid.UUID, approved bool) (*models.Event, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Like(ctx context.Context, id uuid.UUID) (int64, error)
}

// ImageStore holds event cover images. *storage.S3 implements it.
type ImageStore interface {
	UploadImage(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
	DeleteImage(ctx context.Context, key string) error
	KeyFromURL(url string) (string, bool)
}

// CreateRequest is the body for POST /events, as JSON or multipart form with an optional "image" file.
type CreateRequest struct {
	Title       string `json:"title" form:"title" binding:"required"`
	Description string `json:"description" form:"description"`
	EventDate   string `json:"event_date" form:"event_date" binding:"required"`
	EventTime   string `json:"event_time" form:"event_time"`
	Location    string `json:"location" form:"location"`
	TicketPrice int64  `json:"ticket_price" form:"ticket_price" binding:"min=0"`
	Capacity    int    `json:"capacity" form:"capacity" binding:"min=0"`
	Category    string `json:"category" form:"category"`
	OrganizedBy string `json:"organized_by" form:"organized_by"`
}

// UpdateRequest is the body for PATCH /events/:id. Absent fields are left unchanged.
type UpdateRequest struct {
	Title       *string `json:"title" form:"title"`
	Description *string `json:"description" form:"description"`
	EventDate   *string `json:"event_date" form:"event_date"`
	EventTime   *string `json:"event_time" form:"event_time"`
	Location    *string `json:"location" form:"location"`
	TicketPrice *int64  `json:"ticket_price" form:"ticket_price" binding:"omitempty,min=0"`
	Capacity    *int    `json:"capacity" form:"capacity" binding:"omitempty,min=0"`
	Category    *string `json:"category" form:"category"`
	OrganizedBy *string `json:"organized_by" form:"organized_by"`
}

// ApproveRequest is the optional body for PUT /events/:id/approve.
type ApproveRequest struct {
	Approved *bool `json:"approved"`
}

// Handler handles event HTTP endpoints.
type Handler struct {
	store  Store
	images ImageStore
	logger *zap.Logger
}

// NewHandler creates an event handler. images may be nil, in which case image uploads are rejected.
func NewHandler(store Store, images ImageStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, images: images, logger: logger}
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation(models.DateLayout, strings.TrimSpace(s), time.UTC)
}

// Create handles POST /events. Events by admins are approved immediately; others wait for approval.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	date, err := parseDate(req.EventDate)
	if err != nil {
		response.BadRequest(c, "event_date must be YYYY-MM-DD")
		return
	}
	p := middleware.CurrentPrincipal(c)
	e := &models.Event{
		ID:          uuid.New(),
		OwnerID:     p.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		EventDate:   date,
		EventTime:   req.EventTime,
		Location:    req.Location,
		TicketPrice: req.TicketPrice,
		Capacity:    req.Capacity,
		Category:    req.Category,
		OrganizedBy: strings.TrimSpace(req.OrganizedBy),
		IsApproved:  access.AutoApprove(p.Role),
	}

	url, ok := h.uploadImage(c, e.ID)
	if !ok {
		return
	}
	e.ImageURL = url

	if err := h.store.Create(c.Request.Context(), e); err != nil {
		h.logger.Error("create event", zap.Error(err))
		h.removeImage(c.Request.Context(), url)
		response.Internal(c, "failed to create event")
		return
	}
	h.logger.Info("event created",
		zap.String("event_id", e.ID.String()),
		zap.String("owner_id", e.OwnerID.String()),
		zap.Bool("approved", e.IsApproved))
	response.Created(c, e)
}

// uploadImage stores the optional multipart "image" file. It reports false after
// writing an error response.
func (h *Handler) uploadImage(c *gin.Context, eventID uuid.UUID) (string, bool) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return "", true
	}
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return "", true
	}
	if err != nil {
		response.BadRequest(c, "invalid image upload")
		return "", false
	}
	if h.images == nil {
		response.ServiceUnavailable(c, "image storage is not configured")
		return "", false
	}
	if fh.Size > storage.MaxImageSize {
		response.BadRequest(c, fmt.Sprintf("image must be at most %d bytes", storage.MaxImageSize))
		return "", false
	}
	contentType, ok := storage.ImageContentType(fh.Filename)
	if !ok {
		response.BadRequest(c, "image must be jpg, png, webp or gif")
		return "", false
	}
	f, err := fh.Open()
	if err != nil {
		response.BadRequest(c, "invalid image upload")
		return "", false
	}
	defer f.Close()

	key := storage.ImageKey(eventID.String(), "cover-"+uuid.NewString()[:8], fh.Filename)
	url, err := h.images.UploadImage(c.Request.Context(), key, contentType, f, fh.Size)
	if err != nil {
		h.logger.Error("upload event image", zap.Error(err), zap.String("key", key))
		response.Internal(c, "failed to upload image")
		return "", false
	}
	return url, true
}

func (h *Handler) removeImage(ctx context.Context, url string) {
	if url == "" || h.images == nil {
		return
	}
	key, ok := h.images.KeyFromURL(url)
	if !ok {
		return
	}
	if err := h.images.DeleteImage(ctx, key); err != nil {
		h.logger.Warn("delete event image", zap.Error(err), zap.String("key", key))
	}
}

// List handles GET /events: approved events only.
func (h *Handler) List(c *gin.Context) {
	h.list(c, ListFilter{ApprovedOnly: true})
}

// ListAll handles GET /events/all (admin): every event including pending ones.
func (h *Handler) ListAll(c *gin.Context) {
	h.list(c, ListFilter{})
}

// ListMine handles GET /events/mine: events owned by the caller.
func (h *Handler) ListMine(c *gin.Context) {
	uid := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	h.list(c, ListFilter{OwnerID: &uid})
}

func (h *Handler) list(c *gin.Context, f ListFilter) {
	list, err := h.store.List(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("list events", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /events/:id. Pending events are visible only to their owner and admins.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	e, err := h.store.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		response.Internal(c, "failed to load event")
		return
	}
	if !e.IsApproved && access.Check(middleware.CurrentPrincipal(c), access.UpdateEvent, e.OwnerID) != nil {
		response.NotFound(c, "event not found")
		return
	}
	response.OK(c, e)
}

// Update handles PATCH /events/:id (owner or admin).
func (h *Handler) Update(c *gin.Context) {
	e := CurrentEvent(c)
	var req UpdateRequest
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	params := UpdateParams{
		Title:       req.Title,
		Description: req.Description,
		EventTime:   req.EventTime,
		Location:    req.Location,
		TicketPrice: req.TicketPrice,
		Capacity:    req.Capacity,
		Category:    req.Category,
		OrganizedBy: req.OrganizedBy,
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		response.BadRequest(c, "title cannot be empty")
		return
	}
	if req.EventDate != nil {
		d, err := parseDate(*req.EventDate)
		if err != nil {
			response.BadRequest(c, "event_date must be YYYY-MM-DD")
			return
		}
		params.EventDate = &d
	}
	url, ok := h.uploadImage(c, e.ID)
	if !ok {
		return
	}
	if url != "" {
		params.ImageURL = &url
	}

	updated, err := h.store.Update(c.Request.Context(), e.ID, params)
	if err != nil {
		h.logger.Error("update event", zap.Error(err), zap.String("event_id", e.ID.String()))
		h.removeImage(c.Request.Context(), url)
		response.Internal(c, "failed to update event")
		return
	}
	if url != "" {
		h.removeImage(c.Request.Context(), e.ImageURL)
	}
	response.OK(c, updated)
}

// Approve handles PUT /events/:id/approve (admin). {"approved": false} withdraws approval.
func (h *Handler) Approve(c *gin.Context) {
	e := CurrentEvent(c)
	var req ApproveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	approved := req.Approved == nil || *req.Approved
	updated, err := h.store.SetApproved(c.Request.Context(), e.ID, approved)
	if err != nil {
		h.logger.Error("approve event", zap.Error(err), zap.String("event_id", e.ID.String()))
		response.Internal(c, "failed to update approval")
		return
	}
	h.logger.Info("event approval changed", zap.String("event_id", e.ID.String()), zap.Bool("approved", approved))
	response.OK(c, updated)
}

// Delete handles DELETE /events/:id (owner or admin). Tickets for the event are removed with it.
func (h *Handler) Delete(c *gin.Context) {
	e := CurrentEvent(c)
	if err := h.store.Delete(c.Request.Context(), e.ID); err != nil {
		if errors.Is(err, ErrEventNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		h.logger.Error("delete event", zap.Error(err), zap.String("event_id", e.ID.String()))
		response.Internal(c, "failed to delete event")
		return
	}
	h.removeImage(c.Request.Context(), e.ImageURL)
	h.logger.Info("event deleted", zap.String("event_id", e.ID.String()))
	response.NoContent(c)
}

// Like handles POST /events/:id/like. Only approved events can be liked.
func (h *Handler) Like(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	likes, err := h.store.Like(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrEventNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		h.logger.Error("like event", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to like event")
		return
	}
	response.OK(c, gin.H{"event_id": id, "likes": likes})
}
