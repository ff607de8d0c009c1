package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/formacenter/cfm-api/internal/middleware"
	"github.com/formacenter/cfm-api/internal/models"
)

// currentUser extracts JWT claims set by the auth middleware.
func currentUser(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}
