// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates a missing or malformed credential header.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidToken indicates the identity provider rejected the credential.
	ErrInvalidToken = errors.New("invalid token")

	// ErrServiceUnavailable indicates an identity, store or queue backend is unreachable or unconfigured.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrForbidden indicates a role or ownership rule failed.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates optimistic concurrency failure (expected version mismatch).
	ErrConflict = errors.New("version conflict")

	// ErrSendFailed indicates a synchronous email transport error.
	ErrSendFailed = errors.New("send failed")

	// ErrValidation indicates a malformed request shape.
	ErrValidation = errors.New("validation error")
)

// ConflictError carries the stored version that the caller failed to match.
type ConflictError struct {
	Current int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict (current version %d)", e.Current)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ForbiddenError names the authorization rule that failed.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return e.Reason }

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// SendError is returned by the mail transports.
type SendError struct {
	Reason string
}

func (e *SendError) Error() string { return "send failed: " + e.Reason }

func (e *SendError) Unwrap() error { return ErrSendFailed }

// Forbidden is shorthand for a ForbiddenError.
func Forbidden(reason string) error { return &ForbiddenError{Reason: reason} }

// Invalid wraps a validation message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Unavailable marks err as a backend connectivity failure.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrServiceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}
