package repo

// Revoked session token ids.

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// RevokeToken records jti as signed out. Revoking the same jti twice is a no-op.
func RevokeToken(ctx context.Context, db *gorm.DB, jti, uid string, expiresAt time.Time) error {
	rec := &domain.RevokedToken{JTI: jti, UID: uid, ExpiresAt: expiresAt.UTC()}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}

// IsTokenRevoked reports whether jti has been signed out.
func IsTokenRevoked(ctx context.Context, db *gorm.DB, jti string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.RevokedToken{}).
		Where("jti = ?", jti).
		Count(&n).Error
	return n > 0, err
}

// PurgeExpiredTokens deletes revocations whose token would have expired by now.
func PurgeExpiredTokens(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now.UTC()).Delete(&domain.RevokedToken{})
	return res.RowsAffected, res.Error
}
