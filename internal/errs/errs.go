package errs

import (
	"errors"
	"net/http"
)

// Code is a harness error code.
type Code string

const (
	InvalidArgument    Code = "invalid_argument"
	NotFound           Code = "not_found"
	FailedPrecondition Code = "failed_precondition"
	PermissionDenied   Code = "permission_denied"
	Unavailable        Code = "unavailable"
	Internal           Code = "internal"

	// AssertionFailed marks an expected UI or log state that did not hold.
	AssertionFailed Code = "assertion_failed"
	// Timeout marks a bounded wait that expired.
	Timeout Code = "timeout"
)

// Error is a coded error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// CodeOf returns the error code, defaulting to internal.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	return Internal
}

// MessageOf returns the outermost coded message, or "internal error" for untyped errors.
func MessageOf(err error) string {
	if err == nil {
		return string(Internal)
	}
	var coded *Error
	if errors.As(err, &coded) && coded.Message != "" {
		return coded.Message
	}
	return "internal error"
}

// IsTestFailure reports whether err is an assertion failure or an expired wait,
// as opposed to a setup or infrastructure error.
func IsTestFailure(err error) bool {
	switch CodeOf(err) {
	case AssertionFailed, Timeout:
		return err != nil
	default:
		return false
	}
}

// FromHTTPStatus maps a remote service's HTTP status to an error code.
func FromHTTPStatus(status int) Code {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return InvalidArgument
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return PermissionDenied
	case status == http.StatusNotFound:
		return NotFound
	case status == http.StatusConflict:
		return FailedPrecondition
	case status == http.StatusTooManyRequests || status >= 500:
		return Unavailable
	default:
		return Internal
	}
}
