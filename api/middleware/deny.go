package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/use-agent/browserpool/models"
)

// deny aborts the request with the API's structured error body.
func deny(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.RenderResponse{
		Success: false,
		Error:   &models.ErrorDetail{Code: code, Message: message},
	})
}
