// Account HTTP handlers.
//
//   - POST  /auth/signup     (create account, returns a session)
//   - POST  /auth/signin     (returns a session)
//   - POST  /auth/signout    (revokes the bearer token)
//   - GET   /me              (profile and quota usage)
//   - PATCH /me              (update own display name)
//   - GET   /consultations   (investigation consultation types)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pegasus-backend/internal/config"
	"github.com/tbourn/pegasus-backend/internal/domain"
	"github.com/tbourn/pegasus-backend/internal/http/middleware"
	"github.com/tbourn/pegasus-backend/internal/quota"
)

// SignUpRequest is the JSON payload for creating an account.
type SignUpRequest struct {
	Email    string `json:"email"    binding:"required" example:"ana@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
	// Name defaults to the local part of the email.
	Name string `json:"name" example:"Ana"`
}

// SignInRequest is the JSON payload for signing in.
type SignInRequest struct {
	Email    string `json:"email"    binding:"required" example:"ana@example.com"`
	Password string `json:"password" binding:"required" example:"s3cret!"`
}

// UpdateMeRequest is the JSON payload for PATCH /me. An empty name clears it.
type UpdateMeRequest struct {
	Name string `json:"name" binding:"max=255" example:"Ana Souza"`
}

// Usage reports the soft quota of the caller. Limit is omitted for unlimited
// roles.
type Usage struct {
	Used      int    `json:"used"`
	Limit     *int   `json:"limit,omitempty"`
	Unlimited bool   `json:"unlimited"`
	Label     string `json:"label,omitempty" example:"(VIP)"`
}

// MeResponse is the caller's profile with quota usage.
type MeResponse struct {
	User  domain.User `json:"user"`
	Usage Usage       `json:"usage"`
}

// ConsultationsResponse lists the consultation types.
type ConsultationsResponse struct {
	Consultations []config.Consultation `json:"consultations"`
}

// SignUp godoc
// @ID          signUp
// @Summary     Create an account
// @Description Creates an email/password account and its profile and returns a session token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SignUpRequest  true  "Credentials"
// @Success     201  {object}  auth.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid email or weak password"
// @Failure     409  {object}  handlers.ErrorResponse  "Email already registered"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/signup [post]
func (h *Handlers) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password required")
		return
	}
	sess, err := h.identity.SignUp(c.Request.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, sess)
}

// SignIn godoc
// @ID          signIn
// @Summary     Sign in
// @Description Checks email and password and returns a session token. The configured owner email is escalated to the owner role here.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SignInRequest  true  "Credentials"
// @Success     200  {object}  auth.Session
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Incorrect email or password"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/signin [post]
func (h *Handlers) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and password required")
		return
	}
	sess, err := h.identity.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, sess)
}

// SignOut godoc
// @ID          signOut
// @Summary     Sign out
// @Description Revokes the bearer token of the request.
// @Tags        Auth
// @Security    BearerAuth
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse  "Sign in required"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/signout [post]
func (h *Handlers) SignOut(c *gin.Context) {
	if _, okAuth := currentActor(c); !okAuth {
		return
	}
	if err := h.identity.SignOut(c.Request.Context(), middleware.BearerToken(c)); err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}

// GetMe godoc
// @ID          getMe
// @Summary     Current profile
// @Description Returns the caller's profile and soft-quota usage.
// @Tags        Me
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  handlers.MeResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Sign in required"
// @Failure     404  {object}  handlers.ErrorResponse  "Account no longer exists"
// @Router      /me [get]
func (h *Handlers) GetMe(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	u, err := h.identity.Profile(c.Request.Context(), actor.UserID)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, MeResponse{User: *u, Usage: h.usageOf(*actor)})
}

// UpdateMe godoc
// @ID          updateMe
// @Summary     Update own name
// @Description Changes the caller's display name. The role can only be changed by an administrator.
// @Tags        Me
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       body  body  handlers.UpdateMeRequest  true  "New name"
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Sign in required"
// @Router      /me [patch]
func (h *Handlers) UpdateMe(c *gin.Context) {
	actor, okAuth := currentActor(c)
	if !okAuth {
		return
	}
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name must be at most 255 characters")
		return
	}
	u, err := h.identity.UpdateName(c.Request.Context(), actor.UserID, req.Name)
	if err != nil {
		failErr(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// ListConsultations godoc
// @ID          listConsultations
// @Summary     Consultation types
// @Description Lists the consultation types accepted by investigation submissions.
// @Tags        Interactions
// @Produce     json
// @Success     200  {object}  handlers.ConsultationsResponse
// @Router      /consultations [get]
func (h *Handlers) ListConsultations(c *gin.Context) {
	ok(c, http.StatusOK, ConsultationsResponse{Consultations: h.catalog.Consultations()})
}

func (h *Handlers) usageOf(actor domain.Actor) Usage {
	used, limit := h.usage.Usage(actor)
	u := Usage{Used: used, Label: actor.Role.Label()}
	if limit == quota.Unlimited {
		u.Unlimited = true
		return u
	}
	u.Limit = &limit
	return u
}
