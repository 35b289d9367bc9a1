// Package quota implements the role-based soft cap on interactions: a pure
// policy mapping roles to limits, a process-local usage counter, and a Gate
// that combines both for the dispatcher.
package quota

import (
	"errors"
	"fmt"
	"math"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// Unlimited is the limit of roles that are never capped.
const Unlimited = math.MaxInt

const (
	DefaultLimit = 5
	VIPLimit     = 100
)

// LimitFor maps a role to its interaction ceiling. Unknown or empty roles are
// treated as plain users; banned accounts get zero.
func LimitFor(role domain.Role) int {
	switch role {
	case domain.RoleAdmin, domain.RoleOwner:
		return Unlimited
	case domain.RoleVIP:
		return VIPLimit
	case domain.RoleBanned:
		return 0
	default:
		return DefaultLimit
	}
}

// IsUnlimited reports whether role is never capped.
func IsUnlimited(role domain.Role) bool { return LimitFor(role) == Unlimited }

// Check allows an action iff count is below the role's limit. Unlimited
// roles always pass.
func Check(role domain.Role, count int) bool {
	limit := LimitFor(role)
	if limit == Unlimited {
		return true
	}
	return count < limit
}

// Action names the interaction kind being gated. It only affects the denial
// message.
type Action string

const (
	ActionText          Action = "text"
	ActionImage         Action = "image"
	ActionSearch        Action = "search"
	ActionInvestigation Action = "investigation"
)

var (
	// ErrSignInRequired is returned for anonymous callers attempting anything
	// other than a plain-text prompt outside an active chat.
	ErrSignInRequired = errors.New("sign in to use this feature")
	// ErrBanned is wrapped by DeniedError for banned accounts.
	ErrBanned = errors.New("account banned")
	// ErrExceeded is wrapped by DeniedError when the limit is reached.
	ErrExceeded = errors.New("query limit reached")
)

// DeniedError explains a quota denial to the caller.
type DeniedError struct {
	Action Action
	Role   domain.Role
	Used   int
	Limit  int
}

func (e *DeniedError) Error() string {
	if e.Role == domain.RoleBanned {
		return "your account is banned and cannot perform " + string(e.Action) + " requests"
	}
	return fmt.Sprintf("query limit reached (%d/%d) for %s; ask an administrator for more", e.Used, e.Limit, e.Action)
}

// Unwrap lets callers use errors.Is with ErrBanned / ErrExceeded.
func (e *DeniedError) Unwrap() error {
	if e.Role == domain.RoleBanned {
		return ErrBanned
	}
	return ErrExceeded
}
