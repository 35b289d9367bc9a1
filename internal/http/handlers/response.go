// Package handlers provides the HTTP handlers of the Pegasus API.
//
// Every error is returned as an ErrorResponse with a stable code (see
// errors.go). fail() writes the envelope and logs 5xx with the request-scoped
// logger; failErr() maps service, quota and identity errors onto it so the
// individual handlers stay transport-thin.
//
// Example error response:
//
//	HTTP/1.1 429 Too Many Requests
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "quota_exceeded",
//	  "message": "query limit reached (5/5) for image; ask an administrator for more"
//	}
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pegasus-backend/internal/auth"
	"github.com/tbourn/pegasus-backend/internal/http/middleware"
	"github.com/tbourn/pegasus-backend/internal/quota"
	"github.com/tbourn/pegasus-backend/internal/services"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_found"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"resource not found"`
}

// fail aborts the request with a structured error. Server errors (>=500) are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	resp := ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
	}

	if status >= http.StatusInternalServerError {
		lg := middleware.LoggerFrom(c)
		lg.Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}

	c.AbortWithStatusJSON(status, resp)
}

// Fail is the exported variant of fail() for the router.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

// authStatus maps identity provider codes to HTTP statuses.
var authStatus = map[string]int{
	auth.CodeEmailInUse:        http.StatusConflict,
	auth.CodeInvalidEmail:      http.StatusBadRequest,
	auth.CodeWeakPassword:      http.StatusBadRequest,
	auth.CodeInvalidCredential: http.StatusUnauthorized,
	auth.CodeInvalidToken:      http.StatusUnauthorized,
	auth.CodeTokenRevoked:      http.StatusUnauthorized,
	auth.CodeUserNotFound:      http.StatusNotFound,
}

// failErr translates a domain error into the matching envelope. Unknown errors
// become a 500 with fallbackCode.
func failErr(c *gin.Context, err error, fallbackCode string) {
	var (
		denied *quota.DeniedError
		ae     *auth.Error
	)
	switch {
	case errors.As(err, &denied):
		if errors.Is(err, quota.ErrBanned) {
			fail(c, http.StatusForbidden, ErrCodeBanned, denied.Error())
			return
		}
		fail(c, http.StatusTooManyRequests, ErrCodeQuotaExceeded, denied.Error())
	case errors.Is(err, quota.ErrSignInRequired):
		fail(c, http.StatusUnauthorized, ErrCodeSignInRequired, err.Error())
	case errors.As(err, &ae):
		status, ok := authStatus[ae.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		fail(c, status, ae.Code, ae.Message)

	case errors.Is(err, services.ErrEmptyPrompt):
		fail(c, http.StatusBadRequest, ErrCodeEmptyPrompt, "prompt required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodePromptTooLong, err.Error())
	case errors.Is(err, services.ErrConsultationRequired):
		fail(c, http.StatusBadRequest, ErrCodeConsultationRequired, err.Error())
	case errors.Is(err, services.ErrUnknownConsultation):
		fail(c, http.StatusBadRequest, ErrCodeUnknownConsultation, err.Error())
	case errors.Is(err, services.ErrChatNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")

	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrForbidden):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrOwnerProtected), errors.Is(err, services.ErrOwnerAssignment):
		fail(c, http.StatusForbidden, ErrCodeOwnerProtected, err.Error())
	case errors.Is(err, services.ErrSelfRoleChange), errors.Is(err, services.ErrSelfAction):
		fail(c, http.StatusForbidden, ErrCodeSelfAction, err.Error())
	case errors.Is(err, services.ErrInvalidRole):
		fail(c, http.StatusBadRequest, ErrCodeInvalidRole, err.Error())

	default:
		fail(c, http.StatusInternalServerError, fallbackCode, fmt.Sprintf("unexpected error: %v", err))
	}
}

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
