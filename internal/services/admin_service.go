// Package services – AdminService
//
// AdminService implements the admin panel policy: listing users and changing
// roles, banning and deleting accounts. The owner account is immutable from
// here and the owner role cannot be granted.
package services

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/quota"
	"github.com/tbourn/pegasus-backend/internal/repo"
)

// AdminService provides the staff-only user management operations.
type AdminService struct {
	DB    *gorm.DB
	Quota *quota.Gate
}

func adminSpan(ctx context.Context, name string, actor domain.Actor, uid string) (context.Context, trace.Span) {
	return otel.Tracer("services/AdminService").Start(ctx, name,
		trace.WithAttributes(
			attribute.String("actor.id", actor.UserID),
			attribute.String("target.id", uid),
		),
	)
}

// ListUsers returns the users matching f, the owner first, then admins, then
// everybody else by case-insensitive email.
func (s *AdminService) ListUsers(ctx context.Context, f repo.UserFilter) ([]domain.User, error) {
	users, err := repo.ListUsers(ctx, s.DB, f)
	if err != nil {
		return nil, err
	}
	SortUsers(users)
	return users, nil
}

// SortUsers orders users for the admin panel.
func SortUsers(users []domain.User) {
	fold := cases.Fold()
	rank := func(r domain.Role) int {
		switch r {
		case domain.RoleOwner:
			return 0
		case domain.RoleAdmin:
			return 1
		}
		return 2
	}
	sort.SliceStable(users, func(i, j int) bool {
		ri, rj := rank(users[i].Role), rank(users[j].Role)
		if ri != rj {
			return ri < rj
		}
		return fold.String(users[i].Email) < fold.String(users[j].Email)
	})
}

// UpdateRole sets the role of uid. The owner cannot be changed, the owner
// role cannot be assigned, and admins other than the owner cannot change
// their own role.
func (s *AdminService) UpdateRole(ctx context.Context, actor domain.Actor, uid string, role domain.Role) error {
	ctx, span := adminSpan(ctx, "UpdateRole", actor, uid)
	defer span.End()

	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	target, err := s.target(ctx, uid)
	if err != nil {
		return err
	}
	if role == domain.RoleOwner {
		return ErrOwnerAssignment
	}
	if !role.Valid() {
		return ErrInvalidRole
	}
	if actor.UserID == uid && role != target.Role && actor.Role != domain.RoleOwner {
		return ErrSelfRoleChange
	}
	if err := repo.UpdateUserRole(ctx, s.DB, uid, role); err != nil {
		return mapUserErr(err)
	}
	zerolog.Ctx(ctx).Info().Str("actor", actor.UserID).Str("target", uid).Str("role", string(role)).Msg("role updated")
	return nil
}

// BanUser sets uid's role to banned.
func (s *AdminService) BanUser(ctx context.Context, actor domain.Actor, uid string) error {
	ctx, span := adminSpan(ctx, "BanUser", actor, uid)
	defer span.End()

	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	if _, err := s.target(ctx, uid); err != nil {
		return err
	}
	if actor.UserID == uid {
		return ErrSelfAction
	}
	if err := repo.UpdateUserRole(ctx, s.DB, uid, domain.RoleBanned); err != nil {
		return mapUserErr(err)
	}
	zerolog.Ctx(ctx).Info().Str("actor", actor.UserID).Str("target", uid).Msg("user banned")
	return nil
}

// DeleteUser removes uid with all their chats and messages in one
// transaction, then clears their usage counter.
func (s *AdminService) DeleteUser(ctx context.Context, actor domain.Actor, uid string) error {
	ctx, span := adminSpan(ctx, "DeleteUser", actor, uid)
	defer span.End()

	if !actor.Role.IsStaff() {
		return ErrForbidden
	}
	if _, err := s.target(ctx, uid); err != nil {
		return err
	}
	if actor.UserID == uid {
		return ErrSelfAction
	}
	if err := repo.DeleteUserCascade(ctx, s.DB, uid); err != nil {
		return mapUserErr(err)
	}
	if s.Quota != nil {
		s.Quota.Reset(uid)
	}
	zerolog.Ctx(ctx).Info().Str("actor", actor.UserID).Str("target", uid).Msg("user deleted")
	return nil
}

// ResetQuota clears the usage counter of uid.
func (s *AdminService) ResetQuota(ctx context.Context, uid string) error {
	if _, err := repo.GetUser(ctx, s.DB, uid); err != nil {
		return mapUserErr(err)
	}
	if s.Quota != nil {
		s.Quota.Reset(uid)
	}
	return nil
}

// target loads uid and rejects the owner.
func (s *AdminService) target(ctx context.Context, uid string) (*domain.User, error) {
	u, err := repo.GetUser(ctx, s.DB, uid)
	if err != nil {
		return nil, mapUserErr(err)
	}
	if u.Role == domain.RoleOwner {
		return nil, ErrOwnerProtected
	}
	return u, nil
}

func mapUserErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}
