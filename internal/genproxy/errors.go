package genproxy

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
)

// Subsystem identifies which generation path failed.
type Subsystem string

const (
	SubsystemText   Subsystem = "text"
	SubsystemImage  Subsystem = "image"
	SubsystemSearch Subsystem = "search"
)

// Tag is the user-visible prefix of errors from this subsystem.
func (s Subsystem) Tag() string {
	switch s {
	case SubsystemText:
		return "Text Gen (Gemini)"
	case SubsystemImage:
		return "Image Gen (Gemini)"
	case SubsystemSearch:
		return "Web Search"
	}
	return string(s)
}

// MaxMessageRunes bounds the message part of an Error.
const MaxMessageRunes = 200

// Error is a failed generation call, tagged with its subsystem.
type Error struct {
	Subsystem Subsystem
	Message   string
	Err       error
}

func (e *Error) Error() string {
	return e.Subsystem.Tag() + ": " + truncate(e.Message, MaxMessageRunes)
}

func (e *Error) Unwrap() error { return e.Err }

// wrap converts a provider failure into an *Error. Errors already tagged are
// returned unchanged.
func wrap(sub Subsystem, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	var blocked *genai.BlockedError
	switch {
	case errors.As(err, &blocked):
		return &Error{Subsystem: sub, Message: "the request was blocked by safety filters", Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Subsystem: sub, Message: "the request timed out", Err: err}
	case errors.Is(err, context.Canceled):
		return &Error{Subsystem: sub, Message: "the request was cancelled", Err: err}
	}
	return &Error{Subsystem: sub, Message: "API error - " + err.Error(), Err: err}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
