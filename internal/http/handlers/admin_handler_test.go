package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/quota"
	"github.com/tbourn/pegasus-backend/internal/repo"
	"github.com/tbourn/pegasus-backend/internal/services"
)

func seedProfile(t *testing.T, db *gorm.DB, uid, email string, role domain.Role) *domain.Actor {
	t.Helper()
	now := time.Now().UTC()
	u := &domain.User{UID: uid, Email: email, Role: role, CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateUserWithCredential(context.Background(), db, u, "hash"); err != nil {
		t.Fatalf("seed %s: %v", uid, err)
	}
	return &domain.Actor{UserID: uid, Email: email, Role: role}
}

type adminFixture struct {
	db    *gorm.DB
	gate  *quota.Gate
	owner *domain.Actor
	admin *domain.Actor
	user  *domain.Actor
}

func newAdminFixture(t *testing.T) *adminFixture {
	db := newHandlerDB(t)
	return &adminFixture{
		db:    db,
		gate:  quota.NewGate(quota.NewMemoryCounter()),
		owner: seedProfile(t, db, "o1", "owner@example.com", domain.RoleOwner),
		admin: seedProfile(t, db, "a1", "Admin@example.com", domain.RoleAdmin),
		user:  seedProfile(t, db, "u1", "bea@example.com", domain.RoleUser),
	}
}

func (f *adminFixture) router(actor *domain.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(Deps{Admin: &services.AdminService{DB: f.db, Quota: f.gate}, Usage: f.gate})
	r := gin.New()
	r.Use(withActor(actor))
	r.GET("/admin/users", h.ListUsers)
	r.PUT("/admin/users/:uid/role", h.UpdateUserRole)
	r.POST("/admin/users/:uid/ban", h.BanUser)
	r.DELETE("/admin/users/:uid", h.DeleteUser)
	r.DELETE("/admin/users/:uid/quota", h.ResetUserQuota)
	return r
}

func TestAdminListUsers_OrderFiltersAndUsage(t *testing.T) {
	f := newAdminFixture(t)
	seedProfile(t, f.db, "u2", "aaron@example.com", domain.RoleVIP)
	f.gate.Consume(f.user)
	r := f.router(f.admin)

	w := doJSON(r, http.MethodGet, "/admin/users", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decode[ListUsersResponse](t, w)
	var order []string
	for _, u := range resp.Users {
		order = append(order, u.UID)
	}
	want := []string{"o1", "a1", "u2", "u1"}
	if len(order) != len(want) {
		t.Fatalf("order = %v; want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v; want %v", order, want)
		}
	}
	if last := resp.Users[3]; last.Usage.Used != 1 || last.Usage.Limit == nil || *last.Usage.Limit != quota.DefaultLimit {
		t.Fatalf("usage of u1 = %+v", last.Usage)
	}
	if !resp.Users[0].Usage.Unlimited {
		t.Fatalf("owner should be unlimited: %+v", resp.Users[0].Usage)
	}

	w = doJSON(r, http.MethodGet, "/admin/users?role=vip", nil, nil)
	if got := decode[ListUsersResponse](t, w); len(got.Users) != 1 || got.Users[0].UID != "u2" {
		t.Fatalf("role filter = %+v", got.Users)
	}
	w = doJSON(r, http.MethodGet, "/admin/users?q=BEA", nil, nil)
	if got := decode[ListUsersResponse](t, w); len(got.Users) != 1 || got.Users[0].UID != "u1" {
		t.Fatalf("text filter = %+v", got.Users)
	}
	if w := doJSON(r, http.MethodGet, "/admin/users?role=superuser", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad role filter: status = %d", w.Code)
	}
}

func TestAdminUpdateRole(t *testing.T) {
	f := newAdminFixture(t)
	r := f.router(f.admin)

	if w := doJSON(r, http.MethodPut, "/admin/users/u1/role", UpdateRoleRequest{Role: "VIP"}, nil); w.Code != http.StatusNoContent {
		t.Fatalf("promote: status = %d body=%s", w.Code, w.Body.String())
	}
	u, _ := repo.GetUser(context.Background(), f.db, "u1")
	if u.Role != domain.RoleVIP {
		t.Fatalf("role = %q", u.Role)
	}

	cases := []struct {
		path   string
		role   string
		status int
		code   string
	}{
		{"/admin/users/o1/role", "user", http.StatusForbidden, ErrCodeOwnerProtected},
		{"/admin/users/u1/role", "owner", http.StatusForbidden, ErrCodeOwnerProtected},
		{"/admin/users/u1/role", "superuser", http.StatusBadRequest, ErrCodeInvalidRole},
		{"/admin/users/a1/role", "user", http.StatusForbidden, ErrCodeSelfAction},
		{"/admin/users/missing/role", "vip", http.StatusNotFound, ErrCodeNotFound},
	}
	for _, tc := range cases {
		w := doJSON(r, http.MethodPut, tc.path, UpdateRoleRequest{Role: tc.role}, nil)
		if w.Code != tc.status {
			t.Fatalf("%s -> %s: status = %d, want %d", tc.path, tc.role, w.Code, tc.status)
		}
		if er := decode[ErrorResponse](t, w); er.Code != tc.code {
			t.Fatalf("%s -> %s: code = %q, want %q", tc.path, tc.role, er.Code, tc.code)
		}
	}

	if w := doJSON(r, http.MethodPut, "/admin/users/u1/role", map[string]any{}, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing role: status = %d", w.Code)
	}
}

func TestAdminBanDeleteAndResetQuota(t *testing.T) {
	f := newAdminFixture(t)
	r := f.router(f.admin)
	ctx := context.Background()

	if w := doJSON(r, http.MethodPost, "/admin/users/u1/ban", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("ban: status = %d", w.Code)
	}
	if u, _ := repo.GetUser(ctx, f.db, "u1"); u.Role != domain.RoleBanned {
		t.Fatalf("role after ban = %q", u.Role)
	}
	if w := doJSON(r, http.MethodPost, "/admin/users/a1/ban", nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("self ban: status = %d", w.Code)
	}
	if w := doJSON(r, http.MethodPost, "/admin/users/o1/ban", nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("owner ban: status = %d", w.Code)
	}

	f.gate.Consume(&domain.Actor{UserID: "u1", Role: domain.RoleUser})
	if w := doJSON(r, http.MethodDelete, "/admin/users/u1/quota", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("reset quota: status = %d", w.Code)
	}
	if used, _ := f.gate.Usage(domain.Actor{UserID: "u1"}); used != 0 {
		t.Fatalf("usage after reset = %d", used)
	}
	if w := doJSON(r, http.MethodDelete, "/admin/users/missing/quota", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("reset missing: status = %d", w.Code)
	}

	if w := doJSON(r, http.MethodDelete, "/admin/users/u1", nil, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", w.Code)
	}
	if _, err := repo.GetUser(ctx, f.db, "u1"); err == nil {
		t.Fatalf("user should be gone")
	}
	if w := doJSON(r, http.MethodDelete, "/admin/users/o1", nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("owner delete: status = %d", w.Code)
	}
}
