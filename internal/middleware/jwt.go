package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextPrincipal is the key for the *access.Principal in gin context.
	ContextPrincipal = "principal"
)

// TokenVerifier turns a bearer token into a user id.
type TokenVerifier interface {
	UserIDFromToken(token string) (uuid.UUID, error)
}

// UserLoader loads the current state of a user.
type UserLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Authenticate validates the bearer token and loads the user, so role changes apply
// immediately. The token may also come from the "token" query parameter for websocket
// upgrades, where browsers cannot set headers.
func Authenticate(tokens TokenVerifier, users UserLoader, logger *zap.Logger) gin.HandlerFunc {
	return authenticate(tokens, users, logger, false)
}

// OptionalAuthenticate sets the principal when a token is present and lets anonymous
// requests through. A token that is present but invalid is still rejected.
func OptionalAuthenticate(tokens TokenVerifier, users UserLoader, logger *zap.Logger) gin.HandlerFunc {
	return authenticate(tokens, users, logger, true)
}

func authenticate(tokens TokenVerifier, users UserLoader, logger *zap.Logger, optional bool) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			if optional && c.GetHeader("Authorization") == "" {
				c.Next()
				return
			}
			AbortWithAccessError(c, access.ErrUnauthenticated)
			return
		}
		userID, err := tokens.UserIDFromToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil || user == nil {
			if err != nil {
				logger.Debug("token user lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
			}
			response.Unauthorized(c, "user no longer exists")
			c.Abort()
			return
		}
		c.Set(ContextUserID, user.ID)
		c.Set(ContextPrincipal, &access.Principal{
			UserID: user.ID,
			Email:  user.Email,
			Name:   user.Name,
			Role:   user.Role,
		})
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", false
		}
		return strings.TrimSpace(parts[1]), true
	}
	if t := c.Query("token"); t != "" {
		return t, true
	}
	return "", false
}

// CurrentPrincipal returns the authenticated principal, or nil outside Authenticate.
func CurrentPrincipal(c *gin.Context) *access.Principal {
	v, ok := c.Get(ContextPrincipal)
	if !ok {
		return nil
	}
	p, _ := v.(*access.Principal)
	return p
}

// RequirePermission rejects callers whose role is denied action outright. AllowOwn
// passes through; the handler checks ownership once it has loaded the resource.
func RequirePermission(action access.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := CurrentPrincipal(c)
		if p == nil {
			AbortWithAccessError(c, access.ErrUnauthenticated)
			return
		}
		if access.Authorize(p.Role, action) == access.Deny {
			AbortWithAccessError(c, &access.PermissionError{Role: p.Role, Action: action})
			return
		}
		c.Next()
	}
}

// AbortWithAccessError writes 401 for ErrUnauthenticated and 403 with the role and
// action for a *access.PermissionError. It reports false for any other error.
func AbortWithAccessError(c *gin.Context, err error) bool {
	var pe *access.PermissionError
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		response.Unauthorized(c, err.Error())
	case errors.As(err, &pe):
		response.Fail(c, http.StatusForbidden, pe.Error(), gin.H{"role": pe.Role, "action": pe.Action})
	default:
		return false
	}
	c.Abort()
	return true
}
