package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminKey guards administrative routes. An empty required key disables
// the check, which is only sensible in local development.
func AdminKey(required string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if required == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-Admin-Key") != required {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "Invalid admin key",
				},
			})
			return
		}
		c.Next()
	}
}
