// pkg/core/errors.go
package core

import (
	"errors"
	"fmt"
)

// ErrorKind tags a PositionError.
type ErrorKind int

const (
	ErrorUnsupported ErrorKind = iota
	ErrorPermissionDenied
	ErrorPositionUnavailable
	ErrorTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPermissionDenied:
		return "permission_denied"
	case ErrorPositionUnavailable:
		return "position_unavailable"
	case ErrorTimeout:
		return "timeout"
	default:
		return "unsupported"
	}
}

// Sentinels matched by PositionError.Is.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
	ErrUnsupported         = errors.New("geolocation not supported")
)

// Raw geolocation error codes.
const (
	CodeUnsupported         = 0
	CodePermissionDenied    = 1
	CodePositionUnavailable = 2
	CodeTimeout             = 3
)

// PositionError is a failed acquisition attempt. It does not destroy the strategy.
type PositionError struct {
	Kind        ErrorKind
	Code        int
	Message     string
	UserMessage string
}

// NewPositionError builds a PositionError with the user-facing text for kind.
func NewPositionError(kind ErrorKind, message string) *PositionError {
	return &PositionError{
		Kind:        kind,
		Code:        codeFor(kind),
		Message:     message,
		UserMessage: userMessageFor(kind),
	}
}

// PositionErrorFromCode maps a raw geolocation code to a PositionError.
func PositionErrorFromCode(code int, message string) *PositionError {
	var kind ErrorKind
	switch code {
	case CodePermissionDenied:
		kind = ErrorPermissionDenied
	case CodePositionUnavailable:
		kind = ErrorPositionUnavailable
	case CodeTimeout:
		kind = ErrorTimeout
	default:
		kind = ErrorUnsupported
	}
	e := NewPositionError(kind, message)
	e.Code = code
	return e
}

func (e *PositionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s (code %d)", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s (code %d): %s", e.Kind, e.Code, e.Message)
}

// Is matches the package sentinels by kind.
func (e *PositionError) Is(target error) bool {
	switch target {
	case ErrPermissionDenied:
		return e.Kind == ErrorPermissionDenied
	case ErrPositionUnavailable:
		return e.Kind == ErrorPositionUnavailable
	case ErrTimeout:
		return e.Kind == ErrorTimeout
	case ErrUnsupported:
		return e.Kind == ErrorUnsupported
	}
	return false
}

// Terminal reports whether the error ends the current strategy instance.
// Timeout and PositionUnavailable are recoverable.
func (e *PositionError) Terminal() bool {
	return e.Kind == ErrorPermissionDenied || e.Kind == ErrorUnsupported
}

func codeFor(kind ErrorKind) int {
	switch kind {
	case ErrorPermissionDenied:
		return CodePermissionDenied
	case ErrorPositionUnavailable:
		return CodePositionUnavailable
	case ErrorTimeout:
		return CodeTimeout
	default:
		return CodeUnsupported
	}
}

func userMessageFor(kind ErrorKind) string {
	switch kind {
	case ErrorPermissionDenied:
		return "Location access was denied. Enable location permission in your device settings to share or view live positions."
	case ErrorPositionUnavailable:
		return "Your location is currently unavailable. Check that GPS is enabled and try again."
	case ErrorTimeout:
		return "Getting your location took too long. Please try again."
	default:
		return "Location services are not supported on this device."
	}
}
