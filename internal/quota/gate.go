package quota

import "github.com/tbourn/pegasus-backend/internal/domain"

// Gate applies the policy to a caller using a Counter.
type Gate struct {
	Counter Counter
}

// NewGate builds a Gate over c.
func NewGate(c Counter) *Gate { return &Gate{Counter: c} }

// Check decides whether actor may perform action. A nil actor is anonymous:
// only a plain-text prompt outside an active chat is allowed.
func (g *Gate) Check(actor *domain.Actor, action Action, hasActiveChat bool) error {
	if actor == nil {
		if action == ActionText && !hasActiveChat {
			return nil
		}
		return ErrSignInRequired
	}
	used := g.Counter.Count(actor.UserID)
	if Check(actor.Role, used) {
		return nil
	}
	return &DeniedError{Action: action, Role: actor.Role, Used: used, Limit: LimitFor(actor.Role)}
}

// Consume records one counted interaction for actor. Anonymous callers and
// unlimited roles are never counted. It returns the new usage.
func (g *Gate) Consume(actor *domain.Actor) int {
	if actor == nil || IsUnlimited(actor.Role) {
		return 0
	}
	return g.Counter.Increment(actor.UserID)
}

// Usage reports the current count and limit for actor.
func (g *Gate) Usage(actor domain.Actor) (used, limit int) {
	return g.Counter.Count(actor.UserID), LimitFor(actor.Role)
}

// Reset clears the counter for userID.
func (g *Gate) Reset(userID string) { g.Counter.Reset(userID) }
