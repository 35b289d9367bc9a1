package auth

import (
	"errors"
	"unicode/utf8"
)

// Stable error codes surfaced to clients.
const (
	CodeEmailInUse        = "auth/email-already-in-use"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeInvalidToken      = "auth/invalid-token"
	CodeTokenRevoked      = "auth/token-revoked"
	CodeUserNotFound      = "auth/user-not-found"
	CodeInternal          = "auth/internal"
)

var friendly = map[string]string{
	CodeEmailInUse:        "This email is already registered. Try signing in instead.",
	CodeInvalidEmail:      "The email address is not valid.",
	CodeWeakPassword:      "The password must be at least 6 characters long.",
	CodeInvalidCredential: "Incorrect email or password.",
	CodeInvalidToken:      "Your session is invalid or has expired. Please sign in again.",
	CodeTokenRevoked:      "You have signed out. Please sign in again.",
	CodeUserNotFound:      "The account no longer exists.",
}

// Error is an identity provider failure with a stable code and a message
// suitable for display.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

func (e *Error) Unwrap() error { return e.Err }

const maxInternalMessage = 150

func newError(code string, cause error) *Error {
	msg, ok := friendly[code]
	if !ok {
		msg = "Authentication failed"
		if cause != nil {
			msg += ": " + truncate(cause.Error(), maxInternalMessage)
		}
	}
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
