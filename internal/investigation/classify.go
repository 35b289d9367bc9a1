package investigation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Result is the outcome of one lookup. A successful lookup that found nothing
// has Success set and a not-found message in Error.
type Result struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	QueryType string `json:"query_type"`
}

// HasData reports whether the lookup produced data worth showing.
func (r Result) HasData() bool { return r.Data != nil }

const (
	maxDetailRunes  = 150
	shortBodyBytes  = 200
	notFoundMessage = "Investigation: no results found for the provided value."
)

// noiseFields are removed from lookup responses before they are shown.
var noiseFields = []string{"status", "criador", "by"}

// Classify turns an HTTP status and body from the lookup API into a Result.
// It never fails: every input maps to exactly one of error, empty-success or
// success.
func Classify(status int, body []byte) Result {
	parsed, isJSON := decodeJSON(body)

	if status < 200 || status > 299 {
		return Result{Error: errorDetail(status, body, parsed)}
	}

	if !isJSON {
		return Result{Error: "Investigation API returned an unexpected response (non-JSON or empty)."}
	}

	cleaned := StripNoise(parsed)

	if obj, ok := parsed.(map[string]any); ok && reportsFailure(obj) {
		msg, _ := obj["message"].(string)
		if strings.TrimSpace(msg) == "" {
			msg = "API reported a failure without further details."
		}
		return Result{Error: "Investigation: " + truncate(msg, maxDetailRunes), Data: cleaned}
	}

	if isEmpty(cleaned) {
		return Result{Success: true, Error: notFoundMessage, Data: cleaned}
	}
	return Result{Success: true, Data: cleaned}
}

// StripNoise removes the denylisted fields from an object, or from each
// object of an array. Nested values are left untouched, so the operation is
// idempotent. Inputs are never mutated.
func StripNoise(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return stripObject(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			if obj, ok := item.(map[string]any); ok {
				out[i] = stripObject(obj)
			} else {
				out[i] = item
			}
		}
		return out
	}
	return v
}

func stripObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, f := range noiseFields {
		delete(out, f)
	}
	return out
}

func reportsFailure(obj map[string]any) bool {
	if s, ok := obj["status"].(bool); ok && !s {
		return true
	}
	if s, ok := obj["success"].(bool); ok && !s {
		return true
	}
	return false
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// decodeJSON decodes body when it looks like a JSON object or array.
func decodeJSON(body []byte) (any, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func errorDetail(status int, body []byte, parsed any) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("Status %d: %s.", status, http.StatusText(status))
	}
	prefix := fmt.Sprintf("Investigation API error (%d): ", status)

	lower := strings.ToLower(text)
	if strings.Contains(lower, "<!doctype html") || strings.Contains(lower, "<html") {
		if detail := htmlDetail(text); detail != "" {
			return prefix + truncate(detail, maxDetailRunes)
		}
		return prefix + "HTML response received (no clear details)."
	}

	if obj, ok := parsed.(map[string]any); ok {
		for _, key := range []string{"message", "error"} {
			if s, ok := obj[key].(string); ok && strings.TrimSpace(s) != "" {
				return prefix + truncate(s, maxDetailRunes)
			}
		}
	}

	if len(text) < shortBodyBytes {
		return prefix + truncate(text, maxDetailRunes)
	}
	return prefix + "detail unavailable or too long."
}

// htmlDetail extracts the text of the first <pre>, falling back to <title>.
func htmlDetail(page string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ""
	}
	if pre := strings.TrimSpace(doc.Find("pre").First().Text()); pre != "" {
		return pre
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
