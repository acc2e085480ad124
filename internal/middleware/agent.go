package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-agentlink/agentlink/internal/models"
	"github.com/go-agentlink/agentlink/internal/store"
	"github.com/go-agentlink/agentlink/internal/util"

	"github.com/gin-gonic/gin"
)

// ContextAgentToken is the gin context key holding the resolved agent token.
const ContextAgentToken = "agent_token"

// AgentAuth authenticates an agent by its bearer token. The token is
// matched by hash; revoked tokens resolve to nothing, which is what makes
// revocation terminal.
func AgentAuth(s *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":             "unauthorized",
				"error_description": "Bearer token required",
			})
			c.Abort()
			return
		}

		plaintext := strings.TrimPrefix(authHeader, "Bearer ")
		token, err := s.GetAgentTokenByHash(util.HashToken(plaintext))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":             "unauthorized",
					"error_description": "Invalid or revoked token",
				})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
			}
			c.Abort()
			return
		}

		c.Set(ContextAgentToken, token)
		c.Next()
	}
}

// AgentToken returns the token resolved by AgentAuth.
func AgentToken(c *gin.Context) *models.AgentToken {
	if v, exists := c.Get(ContextAgentToken); exists {
		if token, ok := v.(*models.AgentToken); ok {
			return token
		}
	}
	return nil
}
