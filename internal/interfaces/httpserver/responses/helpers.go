package responses

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"jan-server/services/dm-api/internal/domain/conversation"
	"jan-server/services/dm-api/internal/utils/platformerrors"
)

// HandleError maps domain and platform errors to HTTP responses.
func HandleError(c *gin.Context, err error, message string) {
	logger := log.With().Str("path", c.Request.URL.Path).Logger()

	if errors.Is(err, conversation.ErrConversationNotFound) && platformerrors.GetPlatformError(err) == nil {
		platformerrors.WriteNotFound(c, message)
		return
	}
	platformerrors.WriteError(c, err, logger)
}

// HandleNewError writes a typed error response for route-level failures.
func HandleNewError(c *gin.Context, errorType platformerrors.ErrorType, message string) {
	status := platformerrors.ErrorTypeToHTTPStatus(errorType)
	c.AbortWithStatusJSON(status, platformerrors.HTTPErrorResponse{
		Error: &platformerrors.HTTPErrorDetail{
			Message:   message,
			Type:      platformerrors.ErrorTypeToString(errorType),
			RequestID: platformerrors.RequestIDFromContext(c.Request.Context()),
		},
	})
}

// HandleErrorWithStatus writes an error response with an explicit status.
func HandleErrorWithStatus(c *gin.Context, statusCode int, message string) {
	errType := "internal_error"
	if statusCode == http.StatusBadRequest {
		errType = "validation_error"
	}
	c.AbortWithStatusJSON(statusCode, platformerrors.HTTPErrorResponse{
		Error: &platformerrors.HTTPErrorDetail{Message: message, Type: errType},
	})
}
