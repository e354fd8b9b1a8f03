package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CallerKey is the gin context key holding the authenticated user id.
const CallerKey = "caller_id"

// CallerHeader identifies the acting user. Authentication itself is
// delegated to the gateway in front of this service; the header is
// trusted as-is.
const CallerHeader = "X-User-Id"

func Caller() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(CallerHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHORIZED",
					"message": "X-User-Id header required",
				},
			})
			return
		}
		c.Set(CallerKey, userID)
		c.Next()
	}
}
