package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a non-2xx response from the HopOn API. Message carries the body's
// "error" field when present, else a generic "HTTP <code>" string.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (status %d)", e.Message, e.StatusCode)
}

// IsAuthError reports whether err is an API error with status 401.
func IsAuthError(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}
