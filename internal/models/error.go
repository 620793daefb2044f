package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Login security errors
	ErrInvalidIPFormat    = errors.New("invalid IP address or range format")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrIPBlacklisted      = errors.New("address is blacklisted")
	ErrLockedOut          = errors.New("too many failed attempts, temporarily locked out")
	ErrUsernameBlocked    = errors.New("username is not allowed")
)
