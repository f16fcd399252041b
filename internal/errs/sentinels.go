// Package errs contains sentinel errors and the user-facing failure taxonomy.
package errs

import "errors"

// Common sentinels across the client core and the stub backend.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates a uniqueness violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed input rejected before any side effect.
	ErrValidation = errors.New("validation")

	// ErrNoSession indicates there is no authenticated session.
	ErrNoSession = errors.New("no session")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the caller exceeded its request quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrBusy indicates an operation is already pending.
	ErrBusy = errors.New("operation already pending")

	// ErrNotConfigured indicates a required setting is missing.
	ErrNotConfigured = errors.New("not configured")

	// ErrInvalidCallback indicates an auth callback URL without usable tokens.
	ErrInvalidCallback = errors.New("invalid auth callback")
)
