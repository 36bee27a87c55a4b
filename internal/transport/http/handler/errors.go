package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docchat/internal/answer"
	"docchat/internal/app"
	"docchat/internal/job"
	"docchat/internal/retrieval"
	"docchat/internal/transport/http/middleware"
	"docchat/internal/transport/http/response"
)

// writeError maps service sentinels onto status and response codes.
// Anything unrecognised is a 500 carrying fallback, not the raw error.
func writeError(c *gin.Context, err error, fallback string) {
	status, code, msg := classify(err, fallback)
	response.Error(c, status, code, msg)
}

func classify(err error, fallback string) (int, int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidInput), errors.Is(err, app.ErrUnknownField):
		return http.StatusBadRequest, response.CodeBadRequest, err.Error()
	case errors.Is(err, app.ErrImmutableField):
		return http.StatusBadRequest, response.CodeImmutableField, err.Error()
	case errors.Is(err, retrieval.ErrMissingScope):
		return http.StatusBadRequest, response.CodeMissingScope, err.Error()
	case errors.Is(err, app.ErrSessionNotFound):
		return http.StatusNotFound, response.CodeSessionNotFound, err.Error()
	case errors.Is(err, job.ErrJobNotFound):
		return http.StatusNotFound, response.CodeJobNotFound, err.Error()
	case errors.Is(err, app.ErrNoActiveDocument):
		return http.StatusNotFound, response.CodeNoActiveDocument, err.Error()
	case errors.Is(err, app.ErrJobNotReady), errors.Is(err, job.ErrStateViolation):
		return http.StatusConflict, response.CodeJobNotReady, "job not ready: " + err.Error()
	case errors.Is(err, app.ErrStreamInFlight):
		return http.StatusConflict, response.CodeStreamInFlight, err.Error()
	case errors.Is(err, app.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, err.Error()
	case errors.Is(err, app.ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType, response.CodeUnsupportedFile, err.Error()
	case errors.Is(err, answer.ErrRateLimited):
		return http.StatusTooManyRequests, response.CodeRateLimited, err.Error()
	default:
		return http.StatusInternalServerError, response.CodeInternalServer, fallback
	}
}

func ownerFrom(c *gin.Context) (string, bool) {
	owner, ok := middleware.Owner(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return "", false
	}
	return owner, true
}
