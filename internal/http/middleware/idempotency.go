package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen key for POST /interactions.
// Retrying a submission with the same key replays the stored chat instead of
// calling the providers and consuming quota again.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemChat   = "idem.chat"   // string: chat id of the stored result
	ctxKeyRateBypass = "rate.bypass" // bool: true to skip rate limiting
)

var defaultIdemPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// ReplayChat returns the chat id of a previously completed submission with
// the same key, when one exists and has not expired.
func ReplayChat(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemChat)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// DropReplay clears the replay and rate-limit bypass marks when the stored
// result could not be served after all.
func DropReplay(c *gin.Context) {
	c.Set(ctxKeyIdemChat, "")
	c.Set(ctxKeyRateBypass, false)
}

// IsReplay reports whether the request replays a stored submission.
func IsReplay(c *gin.Context) bool {
	_, ok := ReplayChat(c)
	return ok
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the chat id recorded for (userID, key) when the
// record is still valid at now. Errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, userID, key string, now time.Time) (chatID string, found bool, err error)

// IdempotencyValidator validates the Idempotency-Key header and, for signed-in
// callers, checks lookup for a stored result. A hit marks the request as a
// replay and exempts it from rate limiting. Anonymous submissions are never
// persisted, so their keys are validated but never replayed.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			rid, _ := c.Get(requestIDKey)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": asString(rid),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		uid := userIDFromCtx(c)
		if lookup != nil && uid != "" {
			chatID, found, err := lookup(c.Request.Context(), uid, key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case found && chatID != "":
				c.Set(ctxKeyIdemChat, chatID)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// userIDFromCtx returns the user id set by Authenticate, or "" for anonymous
// callers.
func userIDFromCtx(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
