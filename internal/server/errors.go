package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/provisioning/internal/provisioning/ingest"
)

var (
	ErrUnreadableBody  = errors.New("unreadable_body")
	ErrPayloadTooLarge = errors.New("payload_too_large")
)

// ErrorHandlingMiddleware renders the last handler error with the same
// {"error": "..."} body the ingest gateway answers with.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, message, _ := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, ingest.ErrorResponse{Error: message})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (status int, message, code string) {
	switch {
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "Payload too large", ErrPayloadTooLarge.Error()
	case errors.Is(err, ErrUnreadableBody):
		return http.StatusBadRequest, "Invalid JSON format", ErrUnreadableBody.Error()
	default:
		return http.StatusInternalServerError, "Internal server error", "internal_error"
	}
}

// classifyErrorForLog returns the error type and code logged by the request
// middleware.
func classifyErrorForLog(err error) (string, string) {
	status, _, code := mapError(err)
	if status >= http.StatusInternalServerError {
		return "server", code
	}
	return "client", code
}
