package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")

	// ErrToolNotFound indicates that a tool identifier has no registered handler
	ErrToolNotFound = errors.New("tool not found")

	// ErrBackendUnavailable indicates that a backing store or model endpoint is unreachable
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")
)
