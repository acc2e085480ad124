package middleware

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	// SessionUserID is the session key carrying the signed-in user's id.
	SessionUserID = "user_id"

	// ContextUserID is the gin context key set by RequireAuth.
	ContextUserID = "user_id"
)

// RequireAuth requires a signed-in dashboard user. The verify/approve and
// token-management endpoints are JSON APIs, so an unauthenticated call
// gets 401 rather than a login redirect.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID := session.Get(SessionUserID)

		if userID == nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "Sign in required",
			})
			c.Abort()
			return
		}

		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// UserID returns the authenticated user's id set by RequireAuth.
func UserID(c *gin.Context) string {
	if v, exists := c.Get(ContextUserID); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
