package repo

// Aggregates feeding the weak ETags of the list endpoints.

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// ChatsStats returns the number of chats owned by userID and the greatest
// UpdatedAt among them (nil when the user has no chats).
func ChatsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Chat{}).Where("user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

// MessagesStats returns the number of messages in chatID and the timestamp of
// the newest one (nil when the chat is empty). Messages are append-only, so
// this pair changes exactly when the list does.
func MessagesStats(ctx context.Context, db *gorm.DB, chatID string) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("chat_id = ?", chatID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		Timestamp time.Time
	}
	if err = q.Select("timestamp").Order("timestamp DESC, id DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.Timestamp, nil
}
