package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int    `json:"-"`
	ErrorType  string `json:"errorType,omitempty"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	}
	return e.Message
}

// IsNotFound returns true if this is a not found error.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsInsufficientSpace returns true if the server refused for lack of
// disk budget.
func (e *APIError) IsInsufficientSpace() bool {
	return e.ErrorType == "InsufficientDiskSpace"
}

// IsValidationError returns true if the request was rejected as invalid.
func (e *APIError) IsValidationError() bool {
	return e.ErrorType == "ValidationError" || e.ErrorType == "FileTooLarge"
}

// TransportError wraps a network-level failure (connection refused,
// reset, DNS, timeout). Transport errors are always retryable.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func decodeAPIError(status int, body []byte) error {
	var apiErr APIError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{
		StatusCode: status,
		Message:    string(body),
	}
}

// IsRetryable reports whether a failed request is worth repeating:
// network-level failures, timeouts, and transient server statuses (408,
// 429, 5xx). Validation rejections and integrity failures are permanent
// from the sender's point of view; integrity retries happen at the chunk
// protocol level, not the transport level.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout:
			return true
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return true
		case apiErr.StatusCode >= 500:
			return true
		}
	}
	return false
}
