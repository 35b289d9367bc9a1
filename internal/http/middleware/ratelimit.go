package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// DefaultStaffFactor multiplies rate and burst for admin and owner sessions,
// which page through the user list and act on many accounts in a row.
const DefaultStaffFactor = 4

const (
	idleBucketTTL  = 10 * time.Minute
	sweepEveryN    = 5000
	rateLimitedMsg = "rate limit exceeded"
)

// keyFunc selects the identity used to key a rate-limit bucket, e.g.
// "user:<id>" or "ip:<addr>".
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys signed-in callers by user id and anonymous callers by
// client IP. The prefixes keep the two namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid := userIDFromCtx(c); uid != "" {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token bucket per key. It guards the
// provider-backed endpoints against bursts; the per-role interaction quota is
// enforced separately by the dispatcher.
//
// Idle buckets are swept every few thousand lookups. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	// StaffFactor scales rps and burst for staff sessions. Values < 1 mean 1.
	StaffFactor int

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64
}

// NewRateLimiter builds a limiter with rps tokens per second and the given
// burst (coerced to at least 1), keyed by keyFn.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:         rate.Limit(rps),
		burst:       burst,
		keyFn:       keyFn,
		StaffFactor: DefaultStaffFactor,
		visitors:    make(map[string]*visitor),
		ttl:         idleBucketTTL,
	}
}

// getVisitor returns the standard-tier limiter for key.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	return rl.bucket(key, 1)
}

// bucket returns the limiter for key, creating it scaled by factor. Idle
// entries are swept before the lookup so a stale bucket for key is replaced
// rather than refreshed.
func (rl *RateLimiter) bucket(key string, factor int) *rate.Limiter {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= sweepEveryN {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps*rate.Limit(factor), rl.burst*factor)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator marked this request as a
// replay of a stored result, which does not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// Handler enforces the limits. Rejected requests get 429 with the standard
// error envelope and a Retry-After (whole seconds, at least 1) derived from
// the bucket's refill time.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		factor := 1
		if a := ActorFrom(c); a != nil && a.Role.IsStaff() && rl.StaffFactor > 1 {
			factor = rl.StaffFactor
		}
		lim := rl.bucket(rl.keyFn(c), factor)
		if lim.Allow() {
			c.Next()
			return
		}

		rateLimited.WithLabelValues(callerLabel(c)).Inc()
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(lim)))
		rid, _ := c.Get(requestIDKey)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": asString(rid),
			"code":       "too_many_requests",
			"message":    rateLimitedMsg,
		})
	}
}

// retryAfterSeconds is the wait until one token is available, without
// consuming it.
func retryAfterSeconds(lim *rate.Limiter) int {
	r := lim.Reserve()
	if !r.OK() {
		return 1
	}
	d := r.Delay()
	r.Cancel()
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
