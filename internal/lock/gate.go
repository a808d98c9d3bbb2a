package lock

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned when the role gate drops a call.
var ErrUnauthorized = errors.New("lock: role not authorized")

// Role is the game function a player holds.
type Role string

const (
	RoleSecurityGuard Role = "security_guard"
	RoleTechnician    Role = "technician"
	RoleNone          Role = "none"
)

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSecurityGuard:
		return RoleSecurityGuard, nil
	case RoleTechnician:
		return RoleTechnician, nil
	case RoleNone:
		return RoleNone, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// IsPlayer returns true for the roles a peer can hold.
func (r Role) IsPlayer() bool {
	return r == RoleSecurityGuard || r == RoleTechnician
}

// Gate decides whether a role may drive a lock. This is game logic, not a
// security boundary: the channel trusts every peer.
type Gate interface {
	Authorized(role Role, m *Machine, action Action) bool
}

// OperatorGate allows trigger, check and close only to the lock's designated
// operator roles. Override is never granted to players.
type OperatorGate struct{}

// Authorized implements Gate.
func (OperatorGate) Authorized(role Role, m *Machine, action Action) bool {
	if m == nil || !role.IsPlayer() {
		return false
	}
	switch action {
	case ActionTrigger, ActionCheck, ActionClose:
		return m.HasOperator(role)
	default:
		return false
	}
}

// IsAuthorized is the reference policy as a plain predicate.
func IsAuthorized(role Role, m *Machine) bool {
	return OperatorGate{}.Authorized(role, m, ActionTrigger)
}
