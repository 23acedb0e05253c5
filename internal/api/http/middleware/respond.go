package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/rty23111-ctrl/agent-identity/internal/api/http/dto"
	"github.com/rty23111-ctrl/agent-identity/internal/apperr"
)

// AbortWithError writes the error envelope. Errors that are not an
// *apperr.Error become INTERNAL_ERROR and their cause is only logged.
func AbortWithError(c *gin.Context, err error) {
	appErr := apperr.As(err)
	if appErr.Status >= 500 {
		slog.Error("Request failed",
			"code", appErr.Code,
			"path", c.Request.URL.Path,
			"request_id", GetRequestID(c),
			"error", err)
	}

	c.AbortWithStatusJSON(appErr.Status, dto.ErrorResponse{
		OK: false,
		Error: dto.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Status:    appErr.Status,
			Retryable: appErr.Retryable,
			RequestID: GetRequestID(c),
			Details:   appErr.Details,
		},
	})
}
