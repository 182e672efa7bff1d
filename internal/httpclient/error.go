package httpclient

import (
	goerrors "errors"
	"fmt"
	"net/http"

	"github.com/flexprice/dealpay/internal/errors"
)

// Error represents an HTTP client error
type Error struct {
	*errors.InternalError
	StatusCode int
	Response   []byte
}

func (e *Error) Unwrap() error {
	return e.InternalError
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: status %d", e.InternalError.Error(), e.StatusCode)
}

// NewError creates a new HTTP client error
func NewError(statusCode int, response []byte) *Error {
	return &Error{
		InternalError: errors.New(errors.ErrCodeHTTPClient, "http client error"),
		StatusCode:    statusCode,
		Response:      response,
	}
}

// IsHTTPError checks if an error is an HTTP client error
func IsHTTPError(err error) (*Error, bool) {
	var httpErr *Error
	if goerrors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsStatus reports whether err is an HTTP error with the given status code
func IsStatus(err error, statusCode int) bool {
	httpErr, ok := IsHTTPError(err)
	return ok && httpErr.StatusCode == statusCode
}

// IsNotFound reports a 404 from the remote service
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}
