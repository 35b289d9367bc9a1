// Chat HTTP handlers.
//
// This file wires the handler set and exposes the chat history endpoints:
//   - GET /chats                 (list, paginated, ETag support)
//   - GET /chats/{id}/messages   (list, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/pegasus-backend/internal/auth"
	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/http/middleware"
	"github.com/tbourn/pegasus-backend/internal/repo"
	"github.com/tbourn/pegasus-backend/internal/services"
	"github.com/tbourn/pegasus-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService reads chat history on behalf of its owner.
type SessionService interface {
	ListSessionsPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Chat, int64, error)
	GetSession(ctx context.Context, userID, chatID string) (*domain.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]domain.Message, error)
	ListMessagesPage(ctx context.Context, userID, chatID string, page, pageSize int) ([]domain.Message, int64, error)
}

// InteractionService runs one submission through the dispatcher.
type InteractionService interface {
	Dispatch(ctx context.Context, actor *domain.Actor, sub services.Submission) (*services.Outcome, error)
}

// IdentityService is the identity provider as seen by the HTTP layer.
type IdentityService interface {
	SignUp(ctx context.Context, email, password, name string) (*auth.Session, error)
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context, token string) error
	Profile(ctx context.Context, uid string) (*domain.User, error)
	UpdateName(ctx context.Context, uid, name string) (*domain.User, error)
}

// UsageReporter exposes the caller's soft-quota counter.
type UsageReporter interface {
	Usage(actor domain.Actor) (used, limit int)
}

// ConsultationCatalog lists the investigation consultation types.
type ConsultationCatalog interface {
	Consultations() []config.Consultation
}

// AdminService is the admin panel policy.
type AdminService interface {
	ListUsers(ctx context.Context, f repo.UserFilter) ([]domain.User, error)
	UpdateRole(ctx context.Context, actor domain.Actor, uid string, role domain.Role) error
	BanUser(ctx context.Context, actor domain.Actor, uid string) error
	DeleteUser(ctx context.Context, actor domain.Actor, uid string) error
	ResetQuota(ctx context.Context, uid string) error
}

//
// Handler wiring
//

// Deps groups the collaborators of Handlers. DB is optional: without it the
// list endpoints skip ETags and idempotent submissions are not recorded.
type Deps struct {
	Sessions     SessionService
	Interactions InteractionService
	Identity     IdentityService
	Usage        UsageReporter
	Catalog      ConsultationCatalog
	Admin        AdminService

	DB             *gorm.DB
	IdempotencyTTL time.Duration
}

// Handlers groups the HTTP endpoints of the API.
type Handlers struct {
	sessions     SessionService
	interactions InteractionService
	identity     IdentityService
	usage        UsageReporter
	catalog      ConsultationCatalog
	admin        AdminService

	db      *gorm.DB
	idemTTL time.Duration
}

// New constructs Handlers from d.
func New(d Deps) *Handlers {
	ttl := d.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Handlers{
		sessions:     d.Sessions,
		interactions: d.Interactions,
		identity:     d.Identity,
		usage:        d.Usage,
		catalog:      d.Catalog,
		admin:        d.Admin,
		db:           d.DB,
		idemTTL:      ttl,
	}
}

// currentActor returns the signed-in caller or writes a 401.
func currentActor(c *gin.Context) (*domain.Actor, bool) {
	a := middleware.ActorFrom(c)
	if a == nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "sign in required")
		return nil, false
	}
	return a, true
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	pages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: pages,
		HasNext:    page < pages,
	}
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

// ListMessagesResponse wraps a page of a chat's messages.
type ListMessagesResponse struct {
	Chat       domain.Chat      `json:"chat"`
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// notModified sets a weak ETag built from the page window and (count, latest)
// and reports whether the client's If-None-Match already matches it.
func notModified(c *gin.Context, kind, id string, page, pageSize int, count int64, latest *time.Time) bool {
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d:%d:%d"`, kind, id, page, pageSize, count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}

//
// Handlers
//

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of the caller's chats, most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"chats:u1:1:20:3:1700000000\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Sign in required"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	if h.db != nil {
		if count, maxTS, err := repo.ChatsStats(ctx, h.db, actor.UserID); err == nil {
			if notModified(c, "chats", actor.UserID, page, pageSize, count, maxTS) {
				return
			}
		}
	}

	items, total, err := h.sessions.ListSessionsPage(ctx, actor.UserID, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListChatsResponse{
		Chats:      items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a page of a chat's messages in display order. Only the chat owner may read it. Supports weak ETag via If-None-Match.
// @Tags        Chats
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "Chat ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Sign in required"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	ctx := c.Request.Context()
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	chat, err := h.sessions.GetSession(ctx, actor.UserID, chatID)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}

	page, pageSize := utils.ParsePage(c.Query("page"), c.Query("page_size"))
	if h.db != nil {
		if count, latest, err := repo.MessagesStats(ctx, h.db, chatID); err == nil {
			if notModified(c, "messages", chatID, page, pageSize, count, latest) {
				return
			}
		}
	}

	items, total, err := h.sessions.ListMessagesPage(ctx, actor.UserID, chatID, page, pageSize)
	if err != nil {
		failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Chat:       *chat,
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
