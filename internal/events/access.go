package events

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
)

// ContextEvent is the gin context key for the event loaded by RequireEventAccess.
const ContextEvent = "event"

// EventLoader loads a single event.
type EventLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// RequireEventAccess loads the event named by :id (or the event_id query parameter on
// routes without one) and checks action against its owner. Call after middleware.Authenticate.
func RequireEventAccess(events EventLoader, action access.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("id")
		if raw == "" {
			raw = c.Query("event_id")
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid event id")
			c.Abort()
			return
		}
		e, err := events.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, ErrEventNotFound) {
				response.NotFound(c, "event not found")
			} else {
				response.Internal(c, "failed to load event")
			}
			c.Abort()
			return
		}
		if err := access.Check(middleware.CurrentPrincipal(c), action, e.OwnerID); err != nil {
			middleware.AbortWithAccessError(c, err)
			return
		}
		c.Set(ContextEvent, e)
		c.Next()
	}
}

// CurrentEvent returns the event loaded by RequireEventAccess.
func CurrentEvent(c *gin.Context) *models.Event {
	return c.MustGet(ContextEvent).(*models.Event)
}
