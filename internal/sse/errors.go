package sse

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/curatolabs/tracedesk/internal/provider"
)

// Code is the machine-readable error taxonomy surfaced to streaming clients.
type Code string

const (
	CodeInvalidCredential Code = "invalid_credential"
	CodeProviderError     Code = "provider_error"
	CodeRateLimited       Code = "rate_limited"
	CodeTimeout           Code = "timeout"
	CodeParseError        Code = "parse_error"
	CodeNetworkError      Code = "network_error"
	CodeCancelled         Code = "cancelled"
	CodeInvalidRequest    Code = "invalid_request"
)

// Error is the structured payload of a terminal error event. Retryable tells
// the client whether retrying the same request can reasonably succeed.
type Error struct {
	Code      Code           `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// NewError builds a typed stream error with the taxonomy's retryability.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: retryable(code)}
}

func retryable(code Code) bool {
	switch code {
	case CodeInvalidCredential, CodeCancelled, CodeInvalidRequest:
		return false
	}
	return true
}

// Classify maps an arbitrary handler error to the client-facing taxonomy.
// This is the single mapping point: handlers let errors propagate and the
// transport wrapper classifies them once, here.
func Classify(err error) *Error {
	var streamErr *Error
	if errors.As(err, &streamErr) {
		return streamErr
	}

	var statusErr *provider.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden:
			return NewError(CodeInvalidCredential, "provider rejected credentials")
		case statusErr.Status == http.StatusTooManyRequests:
			return NewError(CodeRateLimited, "provider rate limit exceeded")
		case statusErr.Status >= 400 && statusErr.Status < 500:
			return NewError(CodeInvalidRequest, statusErr.Error())
		}
		return NewError(CodeProviderError, statusErr.Error())
	}

	switch {
	case errors.Is(err, context.Canceled):
		return NewError(CodeCancelled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeTimeout, "request timed out")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewError(CodeTimeout, err.Error())
		}
		return NewError(CodeNetworkError, err.Error())
	}

	// Everything else defaults to a retryable provider error.
	return NewError(CodeProviderError, err.Error())
}
