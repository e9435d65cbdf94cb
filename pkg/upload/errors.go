package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrNoURL is returned when the HTTP uploader has no endpoint.
	ErrNoURL = errors.New("upload: endpoint URL required")

	// ErrEmptyImage is returned for a zero-length payload.
	ErrEmptyImage = errors.New("upload: empty image")

	// ErrInvalidMetadata is returned when mode-specific fields do not match.
	ErrInvalidMetadata = errors.New("upload: invalid metadata")

	// ErrRejected is returned when the store answers 2xx but reports failure.
	ErrRejected = errors.New("upload: rejected by server")
)

// HTTPError is a non-2xx answer from the capture endpoint.
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upload: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upload: HTTP %d", e.StatusCode)
}

// IsRateLimited returns true for HTTP 429.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true for HTTP 401.
func (e *HTTPError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// IsServerError returns true for HTTP 5xx.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// IsRetryable returns true if the request should be retried.
func (e *HTTPError) IsRetryable() bool {
	return e.IsRateLimited() || e.IsServerError()
}
