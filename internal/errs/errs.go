// Package errs holds the error taxonomy shared by every engine component.
//
// Packages wrap these with fmt.Errorf("%w: ...") and callers match with errors.Is.
// Recognition misses and health-check timeouts are not errors; they come back as values.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied    = errors.New("permission denied")
	ErrPlatformUnsupported = errors.New("platform unsupported")
	ErrNotInitialized      = errors.New("not initialized")
	ErrAlreadyDisposed     = errors.New("already disposed")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrConflict            = errors.New("conflict")
	ErrTimeout             = errors.New("timeout")
	ErrInjectionFailed     = errors.New("injection failed")
	ErrNotFound            = errors.New("not found")
)

// Invalid returns an ErrInvalidArgument carrying a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Conflict returns an ErrConflict carrying a formatted reason.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Injection wraps a platform failure to deliver one action.
func Injection(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInjectionFailed, op, err)
}

// Fatal reports whether err should take the HAL as a whole into its error state.
func Fatal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrPlatformUnsupported)
}
