package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hferrand/chatstream/internal/apperr"
)

// fail maps the error taxonomy onto transport statuses: validation 400,
// not-found 404, backend-unavailable 503, everything else 500.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case apperr.IsValidation(err):
		status = http.StatusBadRequest
	case apperr.IsNotFound(err) || errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
	case apperr.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
