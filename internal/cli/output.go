package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"automacro/internal/errs"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and failed: playback failed, image not found
	ExitCommandError = 2 // bad arguments, missing script, unusable config
	ExitUnavailable  = 3 // the platform or a permission is missing
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// wrap picks the exit code from the engine error kind.
func wrap(message string, err error) *ExitError {
	code := ExitFailure
	switch {
	case errors.Is(err, errs.ErrInvalidArgument), errors.Is(err, errs.ErrNotFound), errors.Is(err, errs.ErrConflict):
		code = ExitCommandError
	case errors.Is(err, errs.ErrPermissionDenied), errors.Is(err, errs.ErrPlatformUnsupported):
		code = ExitUnavailable
	}
	return WrapExitError(code, message, err)
}

// GetExitCode extracts the exit code from an error. Plain errors map to
// ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// printer writes either JSON or the text rendering of a value.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) print(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	text(tw)
	return tw.Flush()
}
