package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any 401 response and calls attempted without a
	// stored token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAlreadySaved matches the duplicate-save conflict.
	ErrAlreadySaved = errors.New("product already saved")
	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("not found")
)

// AlreadySavedDetail is the detail text the backend sends for a duplicate save.
const AlreadySavedDetail = "Product already saved"

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is match the package sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrAlreadySaved:
		return e.StatusCode == http.StatusBadRequest &&
			strings.EqualFold(strings.TrimSpace(e.Message), AlreadySavedDetail)
	}
	return false
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}
