// Admin HTTP handlers. All routes require the admin or owner role; the
// policy itself (owner protection, self-actions) lives in services.AdminService.
//
//   - GET    /admin/users               (list, filter by role and text)
//   - PUT    /admin/users/{uid}/role    (change role)
//   - POST   /admin/users/{uid}/ban     (ban)
//   - DELETE /admin/users/{uid}         (delete account and its history)
//   - DELETE /admin/users/{uid}/quota   (reset soft counter)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/repo"
)

// AdminUser is one row of the admin user list.
type AdminUser struct {
	domain.User
	Usage Usage `json:"usage"`
}

// ListUsersResponse wraps the admin user list.
type ListUsersResponse struct {
	Users []AdminUser `json:"users"`
}

// UpdateRoleRequest is the JSON payload for changing a role.
type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required" example:"vip" enums:"banned,user,vip,admin"`
}

// ListUsers godoc
// @ID          adminListUsers
// @Summary     List users
// @Description Lists user profiles with their quota usage: owner first, then admins, then everybody by email.
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Param       role  query  string  false  "Only users with this role"  Enums(banned,user,vip,admin,owner)
// @Param       q     query  string  false  "Substring of email or name"
// @Success     200  {object}  handlers.ListUsersResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid role filter"
// @Failure     401  {object}  handlers.ErrorResponse  "Sign in required"
// @Failure     403  {object}  handlers.ErrorResponse  "Admin privileges required"
// @Router      /admin/users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	var f repo.UserFilter
	if raw := strings.TrimSpace(c.Query("role")); raw != "" {
		role, err := domain.ParseRole(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeInvalidRole, err.Error())
			return
		}
		f.Role = role
	}
	f.Query = c.Query("q")

	users, err := h.admin.ListUsers(c.Request.Context(), f)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	out := make([]AdminUser, 0, len(users))
	for _, u := range users {
		out = append(out, AdminUser{User: u, Usage: h.usageOf(domain.Actor{UserID: u.UID, Email: u.Email, Role: u.Role})})
	}
	ok(c, http.StatusOK, ListUsersResponse{Users: out})
}

// UpdateUserRole godoc
// @ID          adminUpdateRole
// @Summary     Change a user's role
// @Tags        Admin
// @Accept      json
// @Security    BearerAuth
// @Param       uid   path  string                      true  "User ID"
// @Param       body  body  handlers.UpdateRoleRequest  true  "New role"
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid role"
// @Failure     403  {object}  handlers.ErrorResponse  "Owner protected or self change"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{uid}/role [put]
func (h *Handlers) UpdateUserRole(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "role required")
		return
	}
	role := domain.Role(strings.ToLower(strings.TrimSpace(req.Role)))
	if err := h.admin.UpdateRole(c.Request.Context(), *actor, c.Param("uid"), role); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// BanUser godoc
// @ID          adminBanUser
// @Summary     Ban a user
// @Tags        Admin
// @Security    BearerAuth
// @Param       uid  path  string  true  "User ID"
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Owner protected or self ban"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{uid}/ban [post]
func (h *Handlers) BanUser(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	if err := h.admin.BanUser(c.Request.Context(), *actor, c.Param("uid")); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// DeleteUser godoc
// @ID          adminDeleteUser
// @Summary     Delete a user
// @Description Deletes the account, its credentials, chats and messages.
// @Tags        Admin
// @Security    BearerAuth
// @Param       uid  path  string  true  "User ID"
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Owner protected or self delete"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{uid} [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	if err := h.admin.DeleteUser(c.Request.Context(), *actor, c.Param("uid")); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// ResetUserQuota godoc
// @ID          adminResetQuota
// @Summary     Reset a user's query counter
// @Tags        Admin
// @Security    BearerAuth
// @Param       uid  path  string  true  "User ID"
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /admin/users/{uid}/quota [delete]
func (h *Handlers) ResetUserQuota(c *gin.Context) {
	if err := h.admin.ResetQuota(c.Request.Context(), c.Param("uid")); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
