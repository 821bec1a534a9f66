// Package errdefs defines Burrow's error taxonomy.
//
// Every error surfaced across a package boundary wraps one of the sentinel
// errors below, so callers classify with errors.Is instead of string matching:
//
//	if errdefs.IsNotFound(err) { ... }
//
// HandlerFailure and TransportError are absorbed where they occur (logged,
// isolated); the remaining kinds are surfaced synchronously to the caller.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates a malformed event or request payload.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown request, subscription, or session id.
	ErrNotFound = errors.New("not found")

	// ErrQueueFull indicates the completion registry is saturated; callers
	// should back off and retry rather than wait.
	ErrQueueFull = errors.New("queue full")

	// ErrInvalidPattern indicates a malformed subscription pattern.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrHandlerFailure indicates a plugin handler panicked or errored during
	// dispatch. Never propagated past the dispatcher.
	ErrHandlerFailure = errors.New("handler failure")

	// ErrTransport indicates a client connection failed mid-write. Never
	// propagated past the broker or server.
	ErrTransport = errors.New("transport error")

	// ErrUnavailable indicates the daemon is degraded and refusing writes,
	// typically because event persistence exhausted its retry budget. Reads
	// keep working.
	ErrUnavailable = errors.New("unavailable")
)

// Validationf returns a validation error with a formatted detail message.
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrValidation}, args...)...)
}

// NotFoundf returns a not-found error with a formatted detail message.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrNotFound}, args...)...)
}

// InvalidPatternf returns an invalid-pattern error with a formatted detail message.
func InvalidPatternf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidPattern}, args...)...)
}

func IsValidation(err error) bool     { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsQueueFull(err error) bool      { return errors.Is(err, ErrQueueFull) }
func IsInvalidPattern(err error) bool { return errors.Is(err, ErrInvalidPattern) }
func IsHandlerFailure(err error) bool { return errors.Is(err, ErrHandlerFailure) }
func IsTransport(err error) bool      { return errors.Is(err, ErrTransport) }
func IsUnavailable(err error) bool    { return errors.Is(err, ErrUnavailable) }

// Code maps an error to its wire-level code string. Unrecognized errors map
// to "internal" so internal details never leak to clients.
func Code(err error) string {
	switch {
	case IsValidation(err):
		return "validation"
	case IsNotFound(err):
		return "not_found"
	case IsQueueFull(err):
		return "queue_full"
	case IsInvalidPattern(err):
		return "invalid_pattern"
	case IsHandlerFailure(err):
		return "handler_failure"
	case IsTransport(err):
		return "transport"
	case IsUnavailable(err):
		return "unavailable"
	default:
		return "internal"
	}
}
