package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

func limitedRouter(rl *RateLimiter, pre gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func hit(r http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	return w
}

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("anonymous key = %q", got)
	}
	c.Set(ctxKeyUserID, "u123")
	if got := KeyByUserOrIP()(c); got != "user:u123" {
		t.Fatalf("signed-in key = %q", got)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(2, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
	if rl.StaffFactor != DefaultStaffFactor || rl.ttl != idleBucketTTL {
		t.Fatalf("defaults not applied: factor=%d ttl=%v", rl.StaffFactor, rl.ttl)
	}
	lim := rl.getVisitor("k1")
	if lim == nil || rl.getVisitor("k1") != lim {
		t.Fatal("limiter for the same key should be reused")
	}
}

func TestRateLimiter_SweepsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["stale"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.lookups = sweepEveryN - 1
	rl.mu.Unlock()

	rl.getVisitor("fresh")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["stale"]; ok {
		t.Fatal("stale bucket survived the sweep")
	}
	if _, ok := rl.visitors["fresh"]; !ok {
		t.Fatal("fresh bucket missing")
	}
	if rl.lookups != 0 {
		t.Fatalf("lookup counter not reset: %d", rl.lookups)
	}
}

func TestIsRateBypass(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	if IsRateBypass(c) {
		t.Fatal("unset flag should read false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatal("flag should read true")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatal("non-bool flag should read false")
	}
}

func TestRateLimiter_RejectsWithEnvelope(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())
	r := limitedRouter(rl, func(c *gin.Context) { c.Set(requestIDKey, "rid-1"); c.Next() })

	before := testutil.ToFloat64(rateLimited.WithLabelValues("anonymous"))

	if w := hit(r); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := hit(r)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["code"] != "too_many_requests" || body["message"] != "rate limit exceeded" || body["request_id"] != "rid-1" {
		t.Fatalf("envelope = %v", body)
	}
	if after := testutil.ToFloat64(rateLimited.WithLabelValues("anonymous")); after != before+1 {
		t.Fatalf("rejections counter = %v, want %v", after, before+1)
	}
}

func TestRateLimiter_ReplayBypassesBucket(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())
	r := limitedRouter(rl, func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })

	for i := 0; i < 3; i++ {
		if w := hit(r); w.Code != http.StatusOK {
			t.Fatalf("replay %d: %d", i, w.Code)
		}
	}
}

func TestRateLimiter_StaffBucketIsScaled(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, KeyByUserOrIP())
	rl.StaffFactor = 3

	as := func(role domain.Role) gin.HandlerFunc {
		return func(c *gin.Context) {
			c.Set(ctxKeyUserID, "u-"+string(role))
			c.Set(ctxKeyActor, &domain.Actor{UserID: "u-" + string(role), Role: role})
			c.Next()
		}
	}

	admin := limitedRouter(rl, as(domain.RoleAdmin))
	for i := 0; i < 3; i++ {
		if w := hit(admin); w.Code != http.StatusOK {
			t.Fatalf("admin request %d: %d", i, w.Code)
		}
	}
	if w := hit(admin); w.Code != http.StatusTooManyRequests {
		t.Fatalf("admin over scaled burst: %d", w.Code)
	}

	vip := limitedRouter(rl, as(domain.RoleVIP))
	if w := hit(vip); w.Code != http.StatusOK {
		t.Fatalf("vip first: %d", w.Code)
	}
	w := hit(vip)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("vip second: %d", w.Code)
	}
	if ra := w.Header().Get("Retry-After"); ra == "" || ra == "0" {
		t.Fatalf("Retry-After = %q", ra)
	}
}
