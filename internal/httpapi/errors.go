package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"callcenter/internal/calls"
	"callcenter/internal/disposition"
	"callcenter/internal/reporting"
	"callcenter/internal/sessions"
	"callcenter/internal/voicemail"
	"callcenter/pkg/logger"
)

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

var errForbidden = errors.New("forbidden")

func statusFor(err error) int {
	switch {
	case errors.Is(err, calls.ErrNotFound),
		errors.Is(err, sessions.ErrNotFound),
		errors.Is(err, voicemail.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, sessions.ErrInvalidArgument),
		errors.Is(err, disposition.ErrInvalidDisposition),
		errors.Is(err, voicemail.ErrInvalidArgument),
		errors.Is(err, voicemail.ErrInvalidURL),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, disposition.ErrForbidden), errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, disposition.ErrAlreadyLogged),
		errors.Is(err, calls.ErrConflict),
		errors.Is(err, sessions.ErrNotActive),
		errors.Is(err, sessions.ErrCounterUnderflow):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to HTTP responses. Internal errors are logged and hidden.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(status, ErrorResponse{Error: "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Details: err.Error()})
}
