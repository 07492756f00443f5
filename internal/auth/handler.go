package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/internal/models"
	"github.com/eventems/backend/pkg/response"
	"github.com/eventems/backend/pkg/utils"
)

// UserStore is the persistence the auth handlers need. *Repository implements it.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	List(ctx context.Context) ([]models.UserPublic, error)
	Create(ctx context.Context, email, passwordHash, name string, role models.Role) (*models.User, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role"` // participant (default) or organizer
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RoleRequest is the body for PUT /users/:id/role.
type RoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth and user management endpoints.
type Handler struct {
	users  UserStore
	jwt    *JWTService
	logger *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(users UserStore, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, logger: logger}
}

// Register handles POST /auth/register. Admin accounts cannot be self-registered.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role := models.RoleParticipant
	switch models.Role(strings.ToLower(req.Role)) {
	case "", models.RoleParticipant:
	case models.RoleOrganizer:
		role = models.RoleOrganizer
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}
	user, err := h.users.Create(c.Request.Context(), strings.TrimSpace(req.Email), hash, strings.TrimSpace(req.Name), role)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, "email already registered")
			return
		}
		h.logger.Error("create user", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}
	h.respondWithToken(c, user, true)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	user, err := h.users.GetByEmail(c.Request.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			h.logger.Error("login lookup", zap.Error(err))
		}
		response.Unauthorized(c, "invalid email or password")
		return
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}
	h.respondWithToken(c, user, false)
}

func (h *Handler) respondWithToken(c *gin.Context, user *models.User, created bool) {
	token, err := h.jwt.Generate(user.ID, user.Email, user.Name, string(user.Role))
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	body := TokenResponse{Token: token, User: user.ToPublic()}
	if created {
		response.Created(c, body)
		return
	}
	response.OK(c, body)
}

// Profile handles GET /profile.
func (h *Handler) Profile(c *gin.Context) {
	p := middleware.CurrentPrincipal(c)
	user, err := h.users.GetByID(c.Request.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		response.Internal(c, "failed to load profile")
		return
	}
	response.OK(c, user.ToPublic())
}

// Logout handles POST /logout. Tokens are stateless, so the client just discards it.
func (h *Handler) Logout(c *gin.Context) {
	response.OK(c, gin.H{"message": "logged out"})
}

// List handles GET /users (admin only).
func (h *Handler) List(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}

// ChangeRole handles PUT /users/:id/role (admin only).
func (h *Handler) ChangeRole(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var req RoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role := models.Role(strings.ToLower(req.Role))
	if !role.Valid() {
		response.BadRequest(c, "role must be one of admin, organizer, participant")
		return
	}
	user, err := h.users.UpdateRole(c.Request.Context(), id, role)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		h.logger.Error("update role", zap.Error(err), zap.String("user_id", id.String()))
		response.Internal(c, "failed to update role")
		return
	}
	h.logger.Info("user role changed",
		zap.String("user_id", id.String()),
		zap.String("role", string(role)),
		zap.String("by", middleware.CurrentPrincipal(c).UserID.String()))
	response.OK(c, user.ToPublic())
}

// Delete handles DELETE /users/:id (admin only). Admins cannot delete themselves.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	if id == middleware.CurrentPrincipal(c).UserID {
		response.BadRequest(c, "cannot delete your own account")
		return
	}
	if err := h.users.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFound(c, "user not found")
			return
		}
		h.logger.Error("delete user", zap.Error(err), zap.String("user_id", id.String()))
		response.Internal(c, "failed to delete user")
		return
	}
	response.NoContent(c)
}
