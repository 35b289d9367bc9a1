// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file provides the request ID injector, the structured access logger
// and panic recovery:
//
//   - RequestID() ensures every request carries a correlation ID
//     (propagated via X-Request-ID and stored in the Gin context).
//   - Logger() emits one structured access log per request with PII scrubbed
//     from the query string and headers, and attaches a request-scoped
//     zerolog.Logger to both the Gin context and the request context, so
//     services can log with zerolog.Ctx(ctx).
//   - Recovery() converts panics into JSON 500 responses.
//   - LoggerFrom() retrieves the request-scoped logger in handlers.
//
// Recommended order: RequestID, Logger, Recovery, then Authenticate.
// Request and response bodies are never logged.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	ctxKeyLogger    = "logger"
	// maxQueryLogLength caps the number of bytes of the raw query string logged.
	maxQueryLogLength = 2048
)

// RequestID attaches (or propagates) a correlation identifier per request.
// An incoming X-Request-ID is reused; otherwise a UUIDv4 is generated.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// LogOptions configures Logger.
//
// MaskHeaders lists extra header names whose values are replaced with
// "[REDACTED]". Authorization, Cookie and Set-Cookie are always masked.
type LogOptions struct {
	MaskHeaders []string
}

var (
	// UUIDs are scrubbed before phone numbers so the loose phone pattern
	// cannot match UUID segments.
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-7][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
	// Brazilian taxpayer ids (CPF/CNPJ) show up in investigation queries.
	taxIDRE = regexp.MustCompile(`\b\d{3}\.?\d{3}\.?\d{3}-?\d{2}\b|\b\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}\b`)
)

// redact scrubs identifiers, emails, tax ids and phone numbers from s.
func redact(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = taxIDRE.ReplaceAllString(s, "[REDACTED:taxid]")
	s = phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
	return s
}

// Logger writes one access log line per request. The request-scoped logger
// it installs carries request_id, method and path; Authenticate later adds
// user_id and role.
func Logger(opts LogOptions) gin.HandlerFunc {
	mask := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			mask[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		req := c.Request

		route := c.FullPath()
		if route == "" {
			route = req.URL.Path
		}
		rid, _ := c.Get(requestIDKey)
		scoped := log.With().
			Str("request_id", asString(rid)).
			Str("method", req.Method).
			Str("path", route).
			Logger()
		c.Set(ctxKeyLogger, &scoped)
		c.Request = req.WithContext(scoped.WithContext(req.Context()))

		headers := scrubHeaders(req.Header, mask)
		query := redact(truncate(req.URL.RawQuery, maxQueryLogLength))

		c.Next()

		status := c.Writer.Status()
		ev := LoggerFrom(c).WithLevel(accessLevel(status, len(c.Errors) > 0)).
			Str("remote_ip", c.ClientIP()).
			Str("query", query).
			Interface("headers", headers).
			Int64("bytes_in", req.ContentLength).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size())
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Msg("request")
	}
}

// accessLevel is error for 5xx or recorded Gin errors, warn for 4xx and info
// otherwise.
func accessLevel(status int, hasErrors bool) zerolog.Level {
	switch {
	case hasErrors || status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func scrubHeaders(in http.Header, mask map[string]struct{}) map[string]string {
	out := make(map[string]string, len(in))
	for k, vv := range in {
		if _, masked := mask[strings.ToLower(k)]; masked {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = redact(strings.Join(vv, ", "))
	}
	return out
}

// Recovery turns a panic into a logged stack trace, a panics_total tick and,
// when nothing has been written yet, a JSON 500 envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			panicsTotal.Inc()
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			rid, _ := c.Get(requestIDKey)
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// Logger() has not run. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate cuts s to max bytes and appends an ellipsis. A max <= 0 disables
// truncation.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
