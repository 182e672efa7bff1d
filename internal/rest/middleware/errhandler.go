package middleware

import (
	ierr "github.com/flexprice/dealpay/internal/errors"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string         `json:"code"`
	Display string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler middleware handles error responses
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		response := ErrorResponse{
			Success: false,
			Error: ErrorDetail{
				Code:    ierr.CodeOf(err),
				Display: getDisplayMessage(err),
				Details: ierr.DetailsOf(err),
			},
		}
		if len(response.Error.Details) == 0 {
			response.Error.Details = nil
		}

		c.JSON(ierr.HTTPStatusFromErr(err), response)
	}
}

func getDisplayMessage(err error) string {
	if hint := ierr.HintOf(err); hint != "" {
		return hint
	}
	// fallback to a generic message, raw errors may leak internals
	return "An unexpected error occurred"
}
