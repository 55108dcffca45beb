// Grounded on pkg/api/errors.go's typed-error-to-response mapping: one
// function translates a domain error into the HTTP status/body pair the
// spec's exit-code table (spec.md §6) names, so handlers never
// hand-roll status codes inline.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opslane/feedbackpilot/pkg/models"
)

// writeError maps err to the HTTP status spec.md §6 names: 400 for
// validation, 503 for a breaker-subsystem-unavailable/blocked diagnostic,
// 500 for anything else unhandled.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	kind := ""

	var stageErr *models.StageError
	switch {
	case errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
		kind = string(models.ErrorKindValidation)
	case errors.Is(err, models.ErrBreakerBlocked):
		status = http.StatusServiceUnavailable
		kind = string(models.ErrorKindBreakerBlocked)
	case errors.As(err, &stageErr):
		status = http.StatusInternalServerError
		kind = string(stageErr.Kind)
	}

	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}
