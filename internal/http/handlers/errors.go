// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and give clients a stable, machine-readable
// taxonomy next to the human-readable message. Identity errors keep the
// provider's "auth/..." codes so clients can branch on them directly.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "quota_exceeded",
//	  "message": "query limit reached (5/5) for text; ask an administrator for more"
//	}
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Submission validation.
	ErrCodeEmptyPrompt          = "empty_prompt"
	ErrCodePromptTooLong        = "prompt_too_long"
	ErrCodeConsultationRequired = "consultation_required"
	ErrCodeUnknownConsultation  = "unknown_consultation"

	// Quota.
	ErrCodeSignInRequired = "sign_in_required"
	ErrCodeQuotaExceeded  = "quota_exceeded"
	ErrCodeBanned         = "banned"

	// Admin policy.
	ErrCodeOwnerProtected = "owner_protected"
	ErrCodeInvalidRole    = "invalid_role"
	ErrCodeSelfAction     = "self_action"

	// Domain-specific:
	ErrCodeDispatchFailed   = "dispatch_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
