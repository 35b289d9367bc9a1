// Interaction HTTP handler.
//
// POST /interactions submits one prompt with its toggles (web search,
// investigation, image) to the dispatcher and returns the resulting messages.
// Anonymous callers are served but nothing is stored for them.
//
// Idempotency:
// When a signed-in client supplies an Idempotency-Key and a previous
// submission with the same key is still recorded, the handler replays the
// stored chat instead of calling the providers again, and sets
// `Idempotency-Replayed: true`.
package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pegasus-backend/internal/http/middleware"
	"github.com/tbourn/pegasus-backend/internal/repo"
	"github.com/tbourn/pegasus-backend/internal/services"
)

// HeaderIdempotencyReplayed marks a response served from a stored result.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// InteractionRequest is the JSON payload of a submission. Search wins over
// investigation when both are set; an image is generated only when neither
// runs.
type InteractionRequest struct {
	// ChatID continues an existing chat; empty starts a new one.
	ChatID string `json:"chat_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Prompt is the user text. It must be non-empty after trimming.
	Prompt               string `json:"prompt" example:"Who won the 1970 World Cup?"`
	PerformSearch        bool   `json:"perform_search"`
	PerformInvestigation bool   `json:"perform_investigation"`
	// ConsultationType is required when PerformInvestigation is set.
	ConsultationType string `json:"consultation_type" example:"cpf"`
	GenerateImage    bool   `json:"generate_image"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizePrompt converts CRLF/CR to LF, collapses blank-line runs and trims
// surrounding whitespace.
func sanitizePrompt(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PostInteraction godoc
// @ID          postInteraction
// @Summary     Submit a prompt
// @Description Runs the prompt through search, investigation, text and image generation according to the toggles and the caller's quota.
// @Description Provider failures are returned as tagged entries in `errors` while the request still succeeds.
// @Description Signed-in callers may send an Idempotency-Key to replay a previous result safely.
// @Tags        Interactions
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.InteractionRequest  true  "Submission"
//
// @Success     200  {object}  services.Outcome        "Messages produced by the submission"
// @Header      200  {string}  Idempotency-Replayed    "true when a stored result was replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid submission"
// @Failure     401  {object}  handlers.ErrorResponse  "Sign in required"
// @Failure     403  {object}  handlers.ErrorResponse  "Account banned"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     429  {object}  handlers.ErrorResponse  "Quota exceeded"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /interactions [post]
func (h *Handlers) PostInteraction(c *gin.Context) {
	ctx := c.Request.Context()
	actor := middleware.ActorFrom(c)

	if chatID, replay := middleware.ReplayChat(c); replay && actor != nil {
		if h.replay(c, actor.UserID, chatID) {
			return
		}
		middleware.DropReplay(c)
	}

	var req InteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sub := services.Submission{
		ChatID:               strings.TrimSpace(req.ChatID),
		Prompt:               sanitizePrompt(req.Prompt),
		PerformSearch:        req.PerformSearch,
		PerformInvestigation: req.PerformInvestigation,
		ConsultationType:     strings.TrimSpace(req.ConsultationType),
		GenerateImage:        req.GenerateImage,
	}

	out, err := h.interactions.Dispatch(ctx, actor, sub)
	if err != nil {
		failErr(c, err, ErrCodeDispatchFailed)
		return
	}

	// Record the key only once the chat exists; best effort.
	if key, has := middleware.GetIdempotencyKey(c); has && actor != nil && out.ChatID != "" && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, actor.UserID, key, out.ChatID, http.StatusOK, h.idemTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("recording idempotency key")
		}
	}

	ok(c, http.StatusOK, out)
}

// replay serves the stored chat for a repeated Idempotency-Key. It returns
// false when the chat is gone so the submission runs normally.
func (h *Handlers) replay(c *gin.Context, userID, chatID string) bool {
	ctx := c.Request.Context()
	if _, err := h.sessions.GetSession(ctx, userID, chatID); err != nil {
		return false
	}
	msgs, err := h.sessions.ListMessages(ctx, chatID)
	if err != nil {
		return false
	}
	c.Header(HeaderIdempotencyReplayed, "true")
	ok(c, http.StatusOK, services.Outcome{ChatID: chatID, Messages: msgs})
	return true
}
