package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/caconnect/market-api/pkg/errors"
)

// ErrorBody is the error payload shape shared by all handlers.
type ErrorBody struct {
	Status  string                 `json:"status"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func NewErrorResponse(message string) ErrorBody {
	return ErrorBody{Status: "error", Message: message}
}

// Success writes the uniform success envelope.
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"status": "success", "data": data})
}

// Error maps an application error to an HTTP status. RaceLoss and Duplicate
// surface as 409 so clients can tell "someone beat you" from a real failure.
func Error(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		c.JSON(http.StatusInternalServerError, NewErrorResponse("internal server error"))
		return
	}

	body := ErrorBody{Status: "error", Message: appErr.Message, Details: appErr.Details}
	c.JSON(statusFor(appErr.Code), body)
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrValidation, apperrors.ErrSignatureInvalid:
		return http.StatusBadRequest
	case apperrors.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrForbidden, apperrors.ErrNotEligible:
		return http.StatusForbidden
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrRaceLoss, apperrors.ErrDuplicate, apperrors.ErrInvalidTransition:
		return http.StatusConflict
	case apperrors.ErrLimitExceeded:
		return http.StatusTooManyRequests
	case apperrors.ErrGatewayError:
		return http.StatusBadGateway
	case apperrors.ErrGatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
