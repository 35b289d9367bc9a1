// Package services holds the business logic of the chat backend: the chat
// store, the interaction dispatcher and the admin policy. Service-level errors
// are centralized here so handlers can map them to HTTP results consistently.
package services

import "errors"

// Chat and interaction errors.
var (
	// ErrChatNotFound indicates that the requested chat does not exist or is not
	// accessible to the current user.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyPrompt is returned when a submission carries an empty prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a prompt exceeds the configured rune limit.
	ErrTooLong = errors.New("prompt too long")

	// ErrConsultationRequired is returned when an investigation is requested
	// without a consultation type.
	ErrConsultationRequired = errors.New("select a consultation type to investigate")

	// ErrUnknownConsultation is returned for a consultation type that is not
	// in the configured table.
	ErrUnknownConsultation = errors.New("unknown consultation type")
)

// Admin errors.
var (
	ErrUserNotFound = errors.New("user not found")

	// ErrForbidden is returned when a non-staff actor calls an admin operation.
	ErrForbidden = errors.New("admin privileges required")

	// ErrOwnerProtected is returned for any admin mutation targeting the owner.
	ErrOwnerProtected = errors.New("the owner account cannot be changed, banned or deleted")

	// ErrOwnerAssignment is returned when trying to grant the owner role.
	ErrOwnerAssignment = errors.New("the owner role cannot be assigned to other users")

	ErrInvalidRole = errors.New("invalid role")

	// ErrSelfRoleChange is returned when an admin other than the owner tries to
	// change their own role.
	ErrSelfRoleChange = errors.New("you cannot change your own role")

	// ErrSelfAction is returned when an admin tries to ban or delete their own
	// account.
	ErrSelfAction = errors.New("you cannot ban or delete your own account")
)
