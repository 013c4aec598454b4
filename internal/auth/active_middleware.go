package auth

import (
	"campusconnect/backend/internal/models"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ActiveUserMiddleware rejects tokens whose user has since been deleted.
// It must be used AFTER the standard AuthMiddleware.
func ActiveUserMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := c.Get("userID")
		if !exists {
			// This should not happen if AuthMiddleware is used before it
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated", "code": "UNAUTHENTICATED"})
			return
		}

		var count int64
		if err := db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", userID.(uint)).Count(&count).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable", "code": "UNAVAILABLE"})
			return
		}
		if count == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authenticated user not found", "code": "UNAUTHENTICATED"})
			return
		}

		c.Next()
	}
}
