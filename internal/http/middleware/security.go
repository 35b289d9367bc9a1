package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// APIContentSecurityPolicy locks down JSON responses: nothing may be loaded
// or framed from them.
const APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

const defaultHSTSMaxAge = 180 * 24 * time.Hour

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// EnableHSTS emits Strict-Transport-Security on HTTPS requests only.
	EnableHSTS bool
	HSTSMaxAge time.Duration // 180 days when <= 0
	// NoStore marks every response uncacheable. Use NoStore() per group for
	// finer control.
	NoStore bool
	// EnablePolicy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
	EnablePolicy bool
	// CSP is sent as Content-Security-Policy unless the path starts with one
	// of CSPSkipPrefixes (e.g. the Swagger UI, which needs scripts).
	CSP             string
	CSPSkipPrefixes []string
}

// SecurityHeaders sets the hardening headers shared by every API response:
// nosniff, DENY framing and no-referrer, plus the optional groups enabled in
// opt.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := opt.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = defaultHSTSMaxAge
	}
	hsts := "max-age=" + strconv.Itoa(int(maxAge.Seconds())) + "; includeSubDomains; preload"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if opt.EnablePolicy {
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=(), payment=()")
			h.Set("X-Permitted-Cross-Domain-Policies", "none")
		}
		if opt.CSP != "" && !hasAnyPrefix(c.Request.URL.Path, opt.CSPSkipPrefixes) {
			h.Set("Content-Security-Policy", opt.CSP)
		}
		if opt.NoStore {
			setNoStore(h)
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

// NoStore marks a group's responses as uncacheable. Auth and profile routes
// use it because their bodies carry session tokens or quota usage.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		setNoStore(c.Writer.Header())
		c.Next()
	}
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// isHTTPS reports whether the request arrived over TLS, directly or through a
// proxy that set X-Forwarded-Proto.
func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
