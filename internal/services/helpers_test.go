package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/genproxy"
	"github.com/tbourn/pegasus-backend/internal/investigation"
	"github.com/tbourn/pegasus-backend/internal/repo"
)

// ---------- test helpers ----------

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "svc.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// gormStore adapts the repo package functions to ChatRepo and MessageRepo.
type gormStore struct{}

func (gormStore) CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, userID, title)
}
func (gormStore) ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db, userID)
}
func (gormStore) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}
func (gormStore) TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchChat(ctx, db, id, at)
}
func (gormStore) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}
func (gormStore) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}
func (gormStore) CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return repo.CreateMessage(ctx, db, m)
}
func (gormStore) ListMessages(ctx context.Context, db *gorm.DB, chatID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, chatID, limit)
}
func (gormStore) CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	return repo.CountMessages(ctx, db, chatID)
}
func (gormStore) ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, chatID, offset, limit)
}

func newStoreService(t *testing.T) *ChatService {
	t.Helper()
	return NewChatService(newServiceDB(t), gormStore{}, gormStore{})
}

func seedUser(t *testing.T, db *gorm.DB, uid, email string, role domain.Role) {
	t.Helper()
	u := &domain.User{UID: uid, Email: email, Role: role}
	if err := repo.CreateUserWithCredential(context.Background(), db, u, "hash"); err != nil {
		t.Fatalf("seed user %s: %v", uid, err)
	}
}

// fakeGen records calls and returns scripted results.
type fakeGen struct {
	text     string
	textErr  error
	image    string
	imageErr error
	search   *genproxy.SearchOutput
	searchEr error

	textCalls, imageCalls, searchCalls int32
}

func (f *fakeGen) GenerateText(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&f.textCalls, 1)
	return f.text, f.textErr
}

func (f *fakeGen) GenerateImage(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&f.imageCalls, 1)
	return f.image, f.imageErr
}

func (f *fakeGen) Search(ctx context.Context, query string) (*genproxy.SearchOutput, error) {
	atomic.AddInt32(&f.searchCalls, 1)
	if f.searchEr != nil {
		return nil, f.searchEr
	}
	if f.search != nil {
		return f.search, nil
	}
	results, err := genproxy.MockSearchTool{}.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return &genproxy.SearchOutput{Summary: "summary of " + query, Results: results}, nil
}

// fakeInvestigator serves a fixed consultation table and result.
type fakeInvestigator struct {
	result investigation.Result
	calls  int32
}

func (f *fakeInvestigator) Lookup(value string) (config.Consultation, bool) {
	return config.InvestigationConfig{Consultations: []config.Consultation{
		{Value: "cpf", Label: "CPF", APIPath: "cpf"},
	}}.Lookup(value)
}

func (f *fakeInvestigator) Investigate(ctx context.Context, query, consultationType string) investigation.Result {
	atomic.AddInt32(&f.calls, 1)
	r := f.result
	r.QueryType = consultationType
	return r
}

var errBoom = errors.New("boom")
