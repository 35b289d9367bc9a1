package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// chatsOf scopes a query to userID's chats, most recently active first.
// UpdatedAt only moves through TouchChat, once per appended message.
func chatsOf(ctx context.Context, db *gorm.DB, userID string) *gorm.DB {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("user_id = ?", userID).
		Order("updated_at DESC, id DESC")
}

// CreateChat inserts a chat owned by userID. CreatedAt and UpdatedAt start
// equal.
func CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	now := time.Now().UTC()
	c := &domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// ListChats returns every chat of userID.
func ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	var out []domain.Chat
	err := chatsOf(ctx, db, userID).Find(&out).Error
	return out, err
}

// ListChatsPage returns one window of ListChats.
func ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := chatsOf(ctx, db, userID).Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

func CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// GetChat loads chat id when it belongs to userID; a chat owned by someone
// else is indistinguishable from a missing one.
func GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	var c domain.Chat
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// TouchChat moves the chat's UpdatedAt to at.
func TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", id).
		UpdateColumn("updated_at", at.UTC())
	return affectedOne(res)
}

// affectedOne maps a statement that touched no row to ErrNotFound.
func affectedOne(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
