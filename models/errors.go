package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies every failure a swap can end with.
type ErrorKind string

// Error kinds surfaced to callers of the orchestrator and the API.
const (
	ErrCodeConfiguration       ErrorKind = "CONFIGURATION_ERROR"
	ErrCodeSubmission          ErrorKind = "SUBMISSION_ERROR"
	ErrCodeTransport           ErrorKind = "TRANSPORT_ERROR"
	ErrCodeProvider            ErrorKind = "PROVIDER_ERROR"
	ErrCodeTimeout             ErrorKind = "TIMEOUT"
	ErrCodeExtractionExhausted ErrorKind = "EXTRACTION_EXHAUSTED"
	ErrCodeDownload            ErrorKind = "DOWNLOAD_ERROR"
	ErrCodeCanceled            ErrorKind = "CANCELED"

	// API-only codes.
	ErrCodeInvalidInput ErrorKind = "INVALID_INPUT"
	ErrCodeRateLimited  ErrorKind = "RATE_LIMITED"
	ErrCodeUnauthorized ErrorKind = "UNAUTHORIZED"
	ErrCodeNotFound     ErrorKind = "NOT_FOUND"
	ErrCodeInternal     ErrorKind = "INTERNAL_ERROR"
)

// ErrExtractionExhausted is returned by the fallback chain when no strategy
// found a result. The watcher folds it into a TIMEOUT SwapError.
var ErrExtractionExhausted = errors.New("all extraction strategies exhausted")

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    ErrorKind `json:"code"`
	Message string    `json:"message"`
}

// SwapError is the internal error type carrying an error kind.
// It implements the error interface and supports error wrapping via Unwrap.
type SwapError struct {
	Kind    ErrorKind
	Message string
	Err     error // wrapped original error
}

func (e *SwapError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SwapError) Unwrap() error {
	return e.Err
}

// NewSwapError creates a new SwapError.
func NewSwapError(kind ErrorKind, message string, err error) *SwapError {
	return &SwapError{Kind: kind, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail. The
// message is the short per-kind text; raw provider detail stays in logs.
func (e *SwapError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Kind, Message: UserMessage(e.Kind)}
}

// KindOf returns the kind of the first SwapError in err's chain, or
// ErrCodeInternal when there is none.
func KindOf(err error) ErrorKind {
	var se *SwapError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrCodeInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// AsSwapError returns err as a *SwapError, wrapping foreign errors with
// fallback. Context errors are mapped to TIMEOUT or CANCELED.
func AsSwapError(err error, fallback ErrorKind, msg string) *SwapError {
	if err == nil {
		return nil
	}
	var se *SwapError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewSwapError(ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return NewSwapError(ErrCodeCanceled, "request canceled", err)
	default:
		return NewSwapError(fallback, msg, err)
	}
}

// UserMessage is the short human-readable text shown to end users per kind.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case ErrCodeConfiguration:
		return "The face swap service is misconfigured."
	case ErrCodeSubmission:
		return "The provider rejected the image. Try a different picture."
	case ErrCodeTransport:
		return "Could not reach the face swap provider. Please try again later."
	case ErrCodeProvider:
		return "The provider could not process this image."
	case ErrCodeTimeout, ErrCodeExtractionExhausted:
		return "The face swap took too long. Please try again."
	case ErrCodeDownload:
		return "The result was produced but could not be downloaded."
	case ErrCodeCanceled:
		return "The face swap was canceled."
	case ErrCodeInvalidInput:
		return "Please provide a valid image (JPEG, PNG, or WebP)."
	case ErrCodeRateLimited:
		return "Rate limit exceeded, please slow down."
	case ErrCodeUnauthorized:
		return "Missing or invalid API key."
	case ErrCodeNotFound:
		return "Not found."
	default:
		return "An error occurred while processing your image. Please try again later."
	}
}
