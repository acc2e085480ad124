package handlers

import (
	"net/http"

	"github.com/go-agentlink/agentlink/internal/middleware"
	"github.com/go-agentlink/agentlink/internal/store"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AuthHandler provides the minimal dashboard session: a human signs in to
// approve device links and manage agent tokens. Account management beyond
// that is out of scope.
type AuthHandler struct {
	store *store.Store
}

func NewAuthHandler(s *store.Store) *AuthHandler {
	return &AuthHandler{store: s}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "username and password are required",
		})
		return
	}

	user, err := h.store.GetUserByUsername(req.Username)
	if err != nil {
		// Same response for unknown user and bad password
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_credentials",
			"error_description": "Invalid username or password",
		})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "invalid_credentials",
			"error_description": "Invalid username or password",
		})
		return
	}

	session := sessions.Default(c)
	session.Set(middleware.SessionUserID, user.ID)
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"role":     user.Role,
	})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Session handles GET /api/auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	session := sessions.Default(c)
	userID := session.Get(middleware.SessionUserID)
	if userID == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	user, err := h.store.GetUserByID(userID.(string))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"role":     user.Role,
		},
	})
}
