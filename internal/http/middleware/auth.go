package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pegasus-backend/internal/auth"
	"github.com/tbourn/pegasus-backend/internal/domain"
)

const (
	ctxKeyActor  = "actor"
	ctxKeyUserID = "userID"
	ctxKeyToken  = "auth.token"
)

// TokenVerifier resolves a session token to the caller it belongs to.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*domain.Actor, error)
}

// Authenticate resolves an optional bearer token. Requests without an
// Authorization header continue anonymously; a present but invalid token is
// rejected with 401 so clients notice expired sessions.
func Authenticate(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		hdr := strings.TrimSpace(c.GetHeader("Authorization"))
		if hdr == "" {
			c.Next()
			return
		}
		scheme, token, found := strings.Cut(hdr, " ")
		token = strings.TrimSpace(token)
		if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortAuth(c, http.StatusUnauthorized, auth.CodeInvalidToken, "malformed Authorization header")
			return
		}

		actor, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			status, code, msg := http.StatusUnauthorized, auth.CodeInvalidToken, "invalid session token"
			var ae *auth.Error
			if errors.As(err, &ae) {
				code, msg = ae.Code, ae.Message
			}
			if code == auth.CodeInternal {
				status = http.StatusInternalServerError
				LoggerFrom(c).Error().Err(err).Msg("verifying session token")
			}
			abortAuth(c, status, code, msg)
			return
		}

		c.Set(ctxKeyActor, actor)
		c.Set(ctxKeyUserID, actor.UserID)
		c.Set(ctxKeyToken, token)

		l := LoggerFrom(c).With().Str("user_id", actor.UserID).Str("role", string(actor.Role)).Logger()
		c.Set(ctxKeyLogger, &l)
		c.Request = c.Request.WithContext(l.WithContext(c.Request.Context()))

		c.Next()
	}
}

// RequireUser rejects anonymous requests.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ActorFrom(c) == nil {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "sign in required")
			return
		}
		c.Next()
	}
}

// RequireStaff rejects callers that are not admin or owner.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		a := ActorFrom(c)
		if a == nil {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "sign in required")
			return
		}
		if !a.Role.IsStaff() {
			abortAuth(c, http.StatusForbidden, "forbidden", "admin privileges required")
			return
		}
		c.Next()
	}
}

// ActorFrom returns the authenticated caller, or nil for anonymous requests.
func ActorFrom(c *gin.Context) *domain.Actor {
	if v, ok := c.Get(ctxKeyActor); ok {
		if a, ok := v.(*domain.Actor); ok {
			return a
		}
	}
	return nil
}

// BearerToken returns the verified session token of the request, if any.
func BearerToken(c *gin.Context) string {
	return c.GetString(ctxKeyToken)
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
