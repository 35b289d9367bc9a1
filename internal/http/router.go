// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/pegasus-backend/docs"
	"github.com/tbourn/pegasus-backend/internal/auth"
	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/http/handlers"
	"github.com/tbourn/pegasus-backend/internal/http/middleware"
	"github.com/tbourn/pegasus-backend/internal/quota"
	"github.com/tbourn/pegasus-backend/internal/repo"
	"github.com/tbourn/pegasus-backend/internal/services"
)

// storeShim adapts the repository free functions to the services.ChatRepo and
// services.MessageRepo interfaces expected by the ChatService.
type storeShim struct{}

func (storeShim) CreateChat(ctx context.Context, db *gorm.DB, userID, title string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, userID, title)
}

func (storeShim) ListChats(ctx context.Context, db *gorm.DB, userID string) ([]domain.Chat, error) {
	return repo.ListChats(ctx, db, userID)
}

func (storeShim) GetChat(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id, userID)
}

func (storeShim) TouchChat(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchChat(ctx, db, id, at)
}

func (storeShim) CountChats(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountChats(ctx, db, userID)
}

func (storeShim) ListChatsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, userID, offset, limit)
}

func (storeShim) CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return repo.CreateMessage(ctx, db, m)
}

func (storeShim) ListMessages(ctx context.Context, db *gorm.DB, chatID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, chatID, limit)
}

func (storeShim) CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	return repo.CountMessages(ctx, db, chatID)
}

func (storeShim) ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, chatID, offset, limit)
}

// Investigator is the investigation proxy together with its consultation
// catalog.
type Investigator interface {
	services.Investigator
	Consultations() []config.Consultation
}

// Deps are the long-lived collaborators built by main.
type Deps struct {
	DB           *gorm.DB
	Auth         *auth.Provider
	Gen          services.Generator
	Investigator Investigator
	Quota        *quota.Gate
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (redacting)
//  4. Recovery
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers, so auth failures stay readable by browsers
//  8. Authenticate (optional bearer token)
//  9. Idempotency validator (needs the user id, runs before the limiter)
//  10. Rate limiter (per user/IP, bypass on replay)
//  11. gzip
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.LogOptions{
		MaskHeaders: []string{"X-API-Key", "X-Goog-Api-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		EnablePolicy:    true,
		CSP:             middleware.APIContentSecurityPolicy,
		CSPSkipPrefixes: []string{"/swagger/"},
	}))

	r.Use(middleware.Authenticate(d.Auth))
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(d.DB),
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	chats := services.NewChatService(d.DB, storeShim{}, storeShim{})
	dispatcher := &services.Dispatcher{
		Chats:          chats,
		Gen:            d.Gen,
		Investigator:   d.Investigator,
		Quota:          d.Quota,
		MaxPromptRunes: cfg.MaxPromptRunes,
	}
	admin := &services.AdminService{DB: d.DB, Quota: d.Quota}

	h := handlers.New(handlers.Deps{
		Sessions:       chats,
		Interactions:   dispatcher,
		Identity:       d.Auth,
		Usage:          d.Quota,
		Catalog:        d.Investigator,
		Admin:          admin,
		DB:             d.DB,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		authGroup := api.Group("/auth", middleware.NoStore())
		authGroup.POST("/signup", h.SignUp)
		authGroup.POST("/signin", h.SignIn)
		authGroup.POST("/signout", middleware.RequireUser(), h.SignOut)

		me := api.Group("/me", middleware.NoStore(), middleware.RequireUser())
		me.GET("", h.GetMe)
		me.PATCH("", h.UpdateMe)

		api.GET("/consultations", h.ListConsultations)
		api.POST("/interactions", h.PostInteraction)

		chatsGroup := api.Group("/chats", middleware.RequireUser())
		chatsGroup.GET("", h.ListChats)
		chatsGroup.GET("/:id/messages", h.ListMessages)

		adminGroup := api.Group("/admin", middleware.RequireStaff())
		adminGroup.GET("/users", h.ListUsers)
		adminGroup.PUT("/users/:uid/role", h.UpdateUserRole)
		adminGroup.POST("/users/:uid/ban", h.BanUser)
		adminGroup.DELETE("/users/:uid", h.DeleteUser)
		adminGroup.DELETE("/users/:uid/quota", h.ResetUserQuota)
	}
}

// idempotencyLookup resolves a stored Idempotency-Key to the chat it
// produced. A key whose chat has since been deleted is a miss, so the retry
// is rate limited and dispatched like a fresh submission.
func idempotencyLookup(db *gorm.DB) middleware.IdempotencyLookup {
	return func(ctx context.Context, userID, key string, now time.Time) (string, bool, error) {
		rec, err := repo.GetIdempotency(ctx, db, userID, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if _, err := repo.GetChat(ctx, db, rec.ChatID, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", false, nil
			}
			return "", false, err
		}
		return rec.ChatID, true, nil
	}
}

// corsMiddleware allows every origin when none are configured and otherwise
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	headers := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderIdempotencyReplayed}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO is set even without an Origin header so health probes see it.
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     headers,
				ExposeHeaders:    expose,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     headers,
			ExposeHeaders:    expose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body size using http.MaxBytesReader. Requests
// exceeding the cap cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
