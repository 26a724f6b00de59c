package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/metalstock_backend/models"
)

// statusFor maps ledger errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrBucketNotFound), errors.Is(err, models.ErrMovementNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrNegativeStock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body["field"] = verr.Field
	}
	var nerr *models.NegativeStockError
	if errors.As(err, &nerr) {
		body["bucket"] = nerr.NegativeStockWarning
	}
	if status == http.StatusInternalServerError {
		// internal details stay in the log
		_ = c.Error(err)
		body["error"] = "internal error"
	}
	c.AbortWithStatusJSON(status, body)
}
