package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/repo"
	"github.com/tbourn/pegasus-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// store implements services.ChatRepo and services.MessageRepo over the repo
// package, like the router does.
type store struct{}

func (store) CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, userID, title)
}
func (store) ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db, userID)
}
func (store) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}
func (store) TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchChat(ctx, db, id, at)
}
func (store) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}
func (store) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}
func (store) CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return repo.CreateMessage(ctx, db, m)
}
func (store) ListMessages(ctx context.Context, db *gorm.DB, chatID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, chatID, limit)
}
func (store) CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	return repo.CountMessages(ctx, db, chatID)
}
func (store) ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, chatID, offset, limit)
}

func newChatService(db *gorm.DB) *services.ChatService {
	return services.NewChatService(db, store{}, store{})
}

// ---------- router helpers ----------

// withActor stands in for middleware.Authenticate.
func withActor(a *domain.Actor) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-test")
		if a != nil {
			c.Set("actor", a)
			c.Set("userID", a.UserID)
			c.Set("auth.token", "tok-"+a.UserID)
		}
		c.Next()
	}
}

func doJSON(r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, w.Body.String())
	}
	return v
}

var alice = &domain.Actor{UserID: "alice", Email: "alice@example.com", Role: domain.RoleUser}

func newChatRouter(t *testing.T, db *gorm.DB, actor *domain.Actor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := New(Deps{Sessions: newChatService(db), DB: db})
	r := gin.New()
	r.Use(withActor(actor))
	r.GET("/chats", h.ListChats)
	r.GET("/chats/:id/messages", h.ListMessages)
	return r
}

// ---------- tests ----------

func TestListChats_RequiresUser(t *testing.T) {
	db := newHandlerDB(t)
	w := doJSON(newChatRouter(t, db, nil), http.MethodGet, "/chats", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", w.Code)
	}
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeUnauthorized || er.RequestID != "rid-test" {
		t.Fatalf("body = %+v", er)
	}
}

func TestListChats_PaginationAndETag(t *testing.T) {
	db := newHandlerDB(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateChat(ctx, db, alice.UserID, fmt.Sprintf("chat %d", i)); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := repo.CreateChat(ctx, db, "bob", "not yours"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r := newChatRouter(t, db, alice)

	w := doJSON(r, http.MethodGet, "/chats?page=1&page_size=2", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decode[ListChatsResponse](t, w)
	if len(resp.Chats) != 2 || resp.Pagination.Total != 3 || resp.Pagination.TotalPages != 2 || !resp.Pagination.HasNext {
		t.Fatalf("unexpected page: %+v", resp.Pagination)
	}
	for _, ch := range resp.Chats {
		if ch.UserID != alice.UserID {
			t.Fatalf("foreign chat leaked: %+v", ch)
		}
	}

	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	w = doJSON(r, http.MethodGet, "/chats?page=1&page_size=2", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	// a different page never matches the first page's tag
	w = doJSON(r, http.MethodGet, "/chats?page=2&page_size=2", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusOK {
		t.Fatalf("page 2 with page 1 ETag: status = %d", w.Code)
	}
	if got := decode[ListChatsResponse](t, w); len(got.Chats) != 1 || got.Pagination.HasNext {
		t.Fatalf("page 2 = %+v", got.Pagination)
	}
}

func TestListMessages_OwnershipAndOrder(t *testing.T) {
	db := newHandlerDB(t)
	svc := newChatService(db)
	ctx := context.Background()

	chatID, err := svc.LogInteraction(ctx, "", alice.UserID, &services.InteractionRecord{Prompt: "hello", Text: "hi there"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := newChatRouter(t, db, alice)
	w := doJSON(r, http.MethodGet, "/chats/"+chatID+"/messages", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	resp := decode[ListMessagesResponse](t, w)
	if resp.Chat.ID != chatID || len(resp.Messages) != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Messages[0].Sender != domain.SenderUser || resp.Messages[1].Response != "hi there" {
		t.Fatalf("unexpected order: %+v", resp.Messages)
	}

	etag := w.Header().Get("ETag")
	if w := doJSON(r, http.MethodGet, "/chats/"+chatID+"/messages", nil, map[string]string{"If-None-Match": etag}); w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	bob := newChatRouter(t, db, &domain.Actor{UserID: "bob", Role: domain.RoleUser})
	if w := doJSON(bob, http.MethodGet, "/chats/"+chatID+"/messages", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("foreign chat: status = %d", w.Code)
	}
}

func TestListMessages_BadID(t *testing.T) {
	db := newHandlerDB(t)
	w := doJSON(newChatRouter(t, db, alice), http.MethodGet, "/chats/not-a-uuid/messages", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListChats_ServiceErrorWithoutDB(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := New(Deps{Sessions: failingSessions{}})
	r := gin.New()
	r.Use(withActor(alice))
	r.GET("/chats", h.ListChats)

	w := doJSON(r, http.MethodGet, "/chats", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if w.Header().Get("ETag") != "" {
		t.Fatalf("no ETag expected without a DB")
	}
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeListFailed {
		t.Fatalf("body = %+v", er)
	}
}

type failingSessions struct{}

func (failingSessions) ListSessionsPage(context.Context, string, int, int) ([]domain.Chat, int64, error) {
	return nil, 0, fmt.Errorf("db down")
}
func (failingSessions) GetSession(context.Context, string, string) (*domain.Chat, error) {
	return nil, services.ErrChatNotFound
}
func (failingSessions) ListMessages(context.Context, string) ([]domain.Message, error) {
	return nil, fmt.Errorf("db down")
}
func (failingSessions) ListMessagesPage(context.Context, string, string, int, int) ([]domain.Message, int64, error) {
	return nil, 0, fmt.Errorf("db down")
}
