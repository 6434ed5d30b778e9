package errorutil

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// Error codes surfaced to API clients.
const (
	CodeValidation             = "VALIDATION_FAILED"
	CodeNotFound               = "NOT_FOUND"
	CodeUnauthenticated        = "UNAUTHENTICATED"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeTransitionExpired      = "TRANSITION_EXPIRED"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeDetectorUnavailable    = "DETECTOR_UNAVAILABLE"
	CodeInternal               = "INTERNAL_ERROR"
)

// Sentinels for errors.Is; any DomainError with the same Code matches.
var (
	ErrNotFound               = &DomainError{Code: CodeNotFound}
	ErrUnauthorized           = &DomainError{Code: CodeUnauthorized}
	ErrInvalidTransition      = &DomainError{Code: CodeInvalidTransition}
	ErrTransitionExpired      = &DomainError{Code: CodeTransitionExpired}
	ErrConcurrentModification = &DomainError{Code: CodeConcurrentModification}
	ErrDetectorUnavailable    = &DomainError{Code: CodeDetectorUnavailable}
	ErrValidation             = &DomainError{Code: CodeValidation}
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message == "" {
		return e.Code
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Code so callers can compare against the sentinels.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

// NewUnauthenticated reports missing or invalid credentials.
func NewUnauthenticated(message string) error {
	return NewDomainError(CodeUnauthenticated, message, http.StatusUnauthorized, nil)
}

// NewUnauthorized reports a failed capability or scope check.
func NewUnauthorized(capability string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["capability"] = capability
	return NewDomainError(CodeUnauthorized, "missing capability "+capability, http.StatusForbidden, details)
}

func NewInvalidTransition(message string, details map[string]any) error {
	return NewDomainError(CodeInvalidTransition, message, http.StatusConflict, details)
}

func NewTransitionExpired(message string, details map[string]any) error {
	return NewDomainError(CodeTransitionExpired, message, http.StatusConflict, details)
}

func NewConcurrentModification(details map[string]any) error {
	return NewDomainError(CodeConcurrentModification, "ticket was modified concurrently; re-fetch and retry", http.StatusConflict, details)
}

func NewDetectorUnavailable(err error) error {
	return &DomainError{
		Code:       CodeDetectorUnavailable,
		Message:    "duplicate detector unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, pgx.ErrNoRows) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

func MapError(err error) error {
	return ToDomainError(err)
}
