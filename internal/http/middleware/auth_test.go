package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pegasus-backend/internal/auth"
	"github.com/tbourn/pegasus-backend/internal/domain"
)

type stubVerifier struct {
	actor *domain.Actor
	err   error
	calls int
}

func (s *stubVerifier) Verify(_ context.Context, token string) (*domain.Actor, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if token != "good" {
		return nil, &auth.Error{Code: auth.CodeInvalidToken, Message: "expired"}
	}
	return s.actor, nil
}

func newAuthRouter(v TokenVerifier, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Authenticate(v))
	handlers := append(guards, func(c *gin.Context) {
		a := ActorFrom(c)
		if a == nil {
			c.String(http.StatusOK, "anon")
			return
		}
		c.String(http.StatusOK, a.UserID+"|"+BearerToken(c)+"|"+userIDFromCtx(c))
	})
	r.GET("/x", handlers...)
	return r
}

func doAuth(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestAuthenticate_AnonymousPassesThrough(t *testing.T) {
	v := &stubVerifier{}
	w := doAuth(newAuthRouter(v), "")
	if w.Code != http.StatusOK || w.Body.String() != "anon" {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}
	if v.calls != 0 {
		t.Fatalf("verifier should not run without a header")
	}
}

func TestAuthenticate_ValidTokenSetsActor(t *testing.T) {
	v := &stubVerifier{actor: &domain.Actor{UserID: "u1", Email: "a@x.io", Role: domain.RoleUser}}
	w := doAuth(newAuthRouter(v), "Bearer good")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Body.String(); got != "u1|good|u1" {
		t.Fatalf("body = %q", got)
	}
}

func TestAuthenticate_RejectsBadHeaders(t *testing.T) {
	v := &stubVerifier{actor: &domain.Actor{UserID: "u1"}}
	r := newAuthRouter(v)

	for _, h := range []string{"Basic abc", "Bearer", "Bearer    ", "good"} {
		w := doAuth(r, h)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%q: status = %d", h, w.Code)
		}
		if body := decodeErr(t, w); body["code"] != auth.CodeInvalidToken {
			t.Fatalf("%q: body = %v", h, body)
		}
	}
}

func TestAuthenticate_InvalidTokenUsesProviderCode(t *testing.T) {
	w := doAuth(newAuthRouter(&stubVerifier{}), "Bearer stale")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeErr(t, w)
	if body["code"] != auth.CodeInvalidToken || body["message"] != "expired" {
		t.Fatalf("body = %v", body)
	}
	if rid, _ := body["request_id"].(string); rid == "" {
		t.Fatalf("request_id missing: %v", body)
	}
}

func TestAuthenticate_ProviderFailures(t *testing.T) {
	t.Run("internal", func(t *testing.T) {
		v := &stubVerifier{err: &auth.Error{Code: auth.CodeInternal, Message: "db down"}}
		w := doAuth(newAuthRouter(v), "Bearer good")
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", w.Code)
		}
	})
	t.Run("untyped error", func(t *testing.T) {
		v := &stubVerifier{err: errors.New("boom")}
		w := doAuth(newAuthRouter(v), "Bearer good")
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", w.Code)
		}
		if body := decodeErr(t, w); body["code"] != auth.CodeInvalidToken {
			t.Fatalf("body = %v", body)
		}
	})
}

func TestRequireUser(t *testing.T) {
	v := &stubVerifier{actor: &domain.Actor{UserID: "u1", Role: domain.RoleUser}}
	r := newAuthRouter(v, RequireUser())

	if w := doAuth(r, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", w.Code)
	}
	if w := doAuth(r, "Bearer good"); w.Code != http.StatusOK {
		t.Fatalf("signed-in status = %d", w.Code)
	}
}

func TestRequireStaff(t *testing.T) {
	cases := []struct {
		role domain.Role
		want int
	}{
		{domain.RoleUser, http.StatusForbidden},
		{domain.RoleVIP, http.StatusForbidden},
		{domain.RoleAdmin, http.StatusOK},
		{domain.RoleOwner, http.StatusOK},
	}
	for _, tc := range cases {
		v := &stubVerifier{actor: &domain.Actor{UserID: "u1", Role: tc.role}}
		w := doAuth(newAuthRouter(v, RequireStaff()), "Bearer good")
		if w.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.role, w.Code, tc.want)
		}
	}
	if w := doAuth(newAuthRouter(&stubVerifier{}, RequireStaff()), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", w.Code)
	}
}

func TestAuthenticate_EnrichesAccessLog(t *testing.T) {
	buf := withCapturedLog(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(LogOptions{}), Authenticate(&stubVerifier{actor: &domain.Actor{UserID: "u7", Role: domain.RoleAdmin}}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer good")
	r.ServeHTTP(w, req)

	out := buf.String()
	if !strings.Contains(out, `"user_id":"u7"`) || !strings.Contains(out, `"role":"admin"`) {
		t.Fatalf("access log not enriched:\n%s", out)
	}
	if strings.Contains(out, "Bearer good") {
		t.Fatalf("token leaked into log:\n%s", out)
	}
}
