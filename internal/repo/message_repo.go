package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// CreateMessage inserts m. A missing ID is filled with a time-ordered UUIDv7
// and a zero Timestamp with the current UTC time. The Chat association is
// never written.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		m.ID = id.String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return db.WithContext(ctx).Omit("Chat").Create(m).Error
}

// ListMessages returns messages ordered deterministically (Timestamp ASC, ID ASC).
// A non-positive limit returns every message.
func ListMessages(ctx context.Context, db *gorm.DB, chatID string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Where("chat_id = ?", chatID).Order("timestamp ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages WHERE chat_id = ?", chatID).Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered (Timestamp ASC, ID ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
