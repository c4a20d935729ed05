package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "persona-recall/errors"
)

// respondWithError logs the technical error and returns a user-friendly message
func respondWithError(c *gin.Context, statusCode int, technicalError error, userMessage string, logger *zap.Logger, fields ...zap.Field) {
	if logger != nil {
		fields = append(fields, zap.Error(technicalError))
		logger.Error("Request failed", fields...)
	}
	c.JSON(statusCode, gin.H{"error": userMessage})
}

// respondWithClientError returns a client error (no logging needed for validation errors)
func respondWithClientError(c *gin.Context, statusCode int, userMessage string) {
	c.JSON(statusCode, gin.H{"error": userMessage})
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case apperrors.IsInvalidInput(err):
		return http.StatusBadRequest
	case apperrors.IsNotFound(err):
		return http.StatusNotFound
	case apperrors.IsVersionConflict(err), apperrors.IsDuplicate(err):
		return http.StatusConflict
	case apperrors.IsProvider(err):
		return http.StatusBadGateway
	case apperrors.IsStore(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithTaxonomy picks the status from the error taxonomy and hides
// internal detail unless the error is the caller's fault.
func respondWithTaxonomy(c *gin.Context, err error, userMessage string, logger *zap.Logger, fields ...zap.Field) {
	status := statusForError(err)
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		respondWithClientError(c, status, err.Error())
		return
	}
	respondWithError(c, status, err, userMessage, logger, fields...)
}
