package repo

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
)

// ErrDuplicate indicates that a unique key (email, idempotency key) is
// already taken.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation folds the driver-specific ways of reporting a UNIQUE
// constraint failure into one check.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// CreateUserWithCredential inserts a profile and its password hash in one
// transaction. A taken email yields ErrDuplicate.
func CreateUserWithCredential(ctx context.Context, db *gorm.DB, u *domain.User, passwordHash string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(u).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return err
		}
		cred := &domain.Credential{
			UID:          u.UID,
			PasswordHash: passwordHash,
			CreatedAt:    u.CreatedAt,
			UpdatedAt:    u.CreatedAt,
		}
		return tx.Create(cred).Error
	})
}

// GetUser fetches a profile by uid or returns ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, uid string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("uid = ?", uid).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByEmail fetches a profile by its (lower-cased) email.
func GetUserByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetCredential returns the stored password hash for uid.
func GetCredential(ctx context.Context, db *gorm.DB, uid string) (*domain.Credential, error) {
	var c domain.Credential
	if err := db.WithContext(ctx).Where("uid = ?", uid).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateUserRole sets the role of uid. It returns ErrNotFound when no row matched.
func UpdateUserRole(ctx context.Context, db *gorm.DB, uid string, role domain.Role) error {
	return updateUser(ctx, db, uid, "role", role)
}

// UpdateUserName sets (or clears, when name is nil) the display name of uid.
func UpdateUserName(ctx context.Context, db *gorm.DB, uid string, name *string) error {
	return updateUser(ctx, db, uid, "name", name)
}

func updateUser(ctx context.Context, db *gorm.DB, uid, column string, value any) error {
	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("uid = ?", uid).
		Update(column, value)
	return affectedOne(res)
}

// UserFilter narrows ListUsers. Zero values mean "no filter".
type UserFilter struct {
	Role  domain.Role
	Query string
}

// ListUsers returns profiles matching f ordered by email. Query is matched
// case-insensitively against email and name.
func ListUsers(ctx context.Context, db *gorm.DB, f UserFilter) ([]domain.User, error) {
	var out []domain.User
	q := db.WithContext(ctx).Model(&domain.User{})
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if s := strings.ToLower(strings.TrimSpace(f.Query)); s != "" {
		like := "%" + s + "%"
		q = q.Where("LOWER(email) LIKE ? OR LOWER(COALESCE(name, '')) LIKE ?", like, like)
	}
	err := q.Order("LOWER(email) ASC").Find(&out).Error
	return out, err
}

// DeleteUserCascade removes a user and everything they own (messages, chats,
// idempotency rows, revoked tokens, credentials and the profile) in a single
// transaction. It returns ErrNotFound when the profile does not exist.
func DeleteUserCascade(ctx context.Context, db *gorm.DB, uid string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chatIDs := tx.Model(&domain.Chat{}).Select("id").Where("user_id = ?", uid)
		if err := tx.Where("chat_id IN (?)", chatIDs).Delete(&domain.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", uid).Delete(&domain.Chat{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", uid).Delete(&domain.Idempotency{}).Error; err != nil {
			return err
		}
		if err := tx.Where("uid = ?", uid).Delete(&domain.RevokedToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("uid = ?", uid).Delete(&domain.Credential{}).Error; err != nil {
			return err
		}
		return affectedOne(tx.Where("uid = ?", uid).Delete(&domain.User{}))
	})
}
