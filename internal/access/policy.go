// Package access holds the role-based authorization policy. Every handler asks the
// same table instead of comparing role strings inline.
package access

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/eventems/backend/internal/models"
)

// Action is something a principal may attempt.
type Action string

const (
	CreateEvent    Action = "create_event"
	ApproveEvent   Action = "approve_event"
	UpdateEvent    Action = "update_event"
	DeleteEvent    Action = "delete_event"
	ViewEventStats Action = "view_event_stats"
	ViewAllEvents  Action = "view_all_events"
	ChangeUserRole Action = "change_user_role"
	ListUsers      Action = "list_users"
	DeleteUser     Action = "delete_user"
	RedeemTicket   Action = "redeem_ticket"
	PurchaseTicket Action = "purchase_ticket"
	DeleteTicket   Action = "delete_ticket"
)

// Decision is the outcome of Authorize.
type Decision int

const (
	Deny Decision = iota
	Allow
	// AllowOwn allows the action only on resources the principal owns.
	AllowOwn
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case AllowOwn:
		return "allow_own"
	default:
		return "deny"
	}
}

var policy = map[Action]map[models.Role]Decision{
	CreateEvent:    {models.RoleAdmin: Allow, models.RoleOrganizer: Allow},
	ApproveEvent:   {models.RoleAdmin: Allow},
	UpdateEvent:    {models.RoleAdmin: Allow, models.RoleOrganizer: AllowOwn},
	DeleteEvent:    {models.RoleAdmin: Allow, models.RoleOrganizer: AllowOwn},
	ViewEventStats: {models.RoleAdmin: Allow, models.RoleOrganizer: AllowOwn},
	ViewAllEvents:  {models.RoleAdmin: Allow},
	ChangeUserRole: {models.RoleAdmin: Allow},
	ListUsers:      {models.RoleAdmin: Allow},
	DeleteUser:     {models.RoleAdmin: Allow},
	RedeemTicket:   {models.RoleAdmin: Allow, models.RoleOrganizer: Allow},
	PurchaseTicket: {models.RoleAdmin: Allow, models.RoleOrganizer: Allow, models.RoleParticipant: Allow},
	// Holders may delete their own unredeemed tickets.
	DeleteTicket: {models.RoleAdmin: Allow, models.RoleOrganizer: AllowOwn, models.RoleParticipant: AllowOwn},
}

// Authorize returns the decision for role performing action. Unknown roles and
// actions are denied.
func Authorize(role models.Role, action Action) Decision {
	return policy[action][role]
}

// ErrUnauthenticated means no verified principal was present.
var ErrUnauthenticated = errors.New("authentication required")

// PermissionError means the principal is authenticated but its role may not perform the action.
type PermissionError struct {
	Role   models.Role
	Action Action
	// OwnOnly is set when the role could act on its own resources but not this one.
	OwnOnly bool
}

func (e *PermissionError) Error() string {
	if e.OwnOnly {
		return fmt.Sprintf("role %s may only %s on resources it owns", e.Role, e.Action)
	}
	return fmt.Sprintf("role %s may not %s", e.Role, e.Action)
}

// Principal is the authenticated caller.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Name   string
	Role   models.Role
}

// Check authorizes p for action on a resource owned by ownerID. Pass uuid.Nil when the
// action is not tied to an owned resource. It returns ErrUnauthenticated or *PermissionError.
func Check(p *Principal, action Action, ownerID uuid.UUID) error {
	if p == nil || p.UserID == uuid.Nil {
		return ErrUnauthenticated
	}
	switch Authorize(p.Role, action) {
	case Allow:
		return nil
	case AllowOwn:
		if ownerID != uuid.Nil && ownerID == p.UserID {
			return nil
		}
		return &PermissionError{Role: p.Role, Action: action, OwnOnly: true}
	default:
		return &PermissionError{Role: p.Role, Action: action}
	}
}

// AutoApprove reports whether events created by role skip the approval queue.
func AutoApprove(role models.Role) bool {
	return role == models.RoleAdmin
}
