package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-agentlink/agentlink/internal/middleware"
	"github.com/go-agentlink/agentlink/internal/models"
	"github.com/go-agentlink/agentlink/internal/services"

	"github.com/gin-gonic/gin"
)

// TokenHandler exposes the owner's token-management surface. Every
// operation is scoped to the session user; token hashes never leave the
// store.
type TokenHandler struct {
	agents *services.AgentService
}

func NewTokenHandler(agents *services.AgentService) *TokenHandler {
	return &TokenHandler{agents: agents}
}

// tokenView is the owner-facing projection of an AgentToken.
type tokenView struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	TokenPrefix string     `json:"tokenPrefix"`
	Approved    bool       `json:"approved"`
	LastUsedAt  *time.Time `json:"lastUsedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	RevokedAt   *time.Time `json:"revokedAt"`

	AgentUuid        string     `json:"agentUuid,omitempty"`
	AgentMacAddress  string     `json:"agentMacAddress,omitempty"`
	AgentHostname    string     `json:"agentHostname,omitempty"`
	AgentIpAddress   string     `json:"agentIpAddress,omitempty"`
	FirstConnectedAt *time.Time `json:"firstConnectedAt,omitempty"`
	LastHeartbeatAt  *time.Time `json:"lastHeartbeatAt,omitempty"`

	PendingAgentUuid       string     `json:"pendingAgentUuid,omitempty"`
	PendingAgentMacAddress string     `json:"pendingAgentMacAddress,omitempty"`
	PendingAgentHostname   string     `json:"pendingAgentHostname,omitempty"`
	PendingAgentIpAddress  string     `json:"pendingAgentIpAddress,omitempty"`
	PendingAgentAt         *time.Time `json:"pendingAgentAt,omitempty"`
}

func newTokenView(t *models.AgentToken) tokenView {
	return tokenView{
		ID:          t.ID,
		Name:        t.Name,
		TokenPrefix: t.TokenPrefix,
		Approved:    t.Approved,
		LastUsedAt:  t.LastUsedAt,
		CreatedAt:   t.CreatedAt,
		RevokedAt:   t.RevokedAt,

		AgentUuid:        t.AgentUuid,
		AgentMacAddress:  t.AgentMacAddress,
		AgentHostname:    t.AgentHostname,
		AgentIpAddress:   t.AgentIpAddress,
		FirstConnectedAt: t.FirstConnectedAt,
		LastHeartbeatAt:  t.LastHeartbeatAt,

		PendingAgentUuid:       t.PendingAgentUuid,
		PendingAgentMacAddress: t.PendingAgentMacAddress,
		PendingAgentHostname:   t.PendingAgentHostname,
		PendingAgentIpAddress:  t.PendingAgentIpAddress,
		PendingAgentAt:         t.PendingAgentAt,
	}
}

// List handles GET /api/tokens
func (h *TokenHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)

	tokens, err := h.agents.List(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	views := make([]tokenView, 0, len(tokens))
	for i := range tokens {
		views = append(views, newTokenView(&tokens[i]))
	}
	c.JSON(http.StatusOK, views)
}

type createTokenRequest struct {
	Name string `json:"name" binding:"required"`
}

// Create handles POST /api/tokens. The plaintext token appears in this
// response and nowhere else, ever.
func (h *TokenHandler) Create(c *gin.Context) {
	var req createTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "name is required",
		})
		return
	}

	userID := middleware.UserID(c)
	issued, err := h.agents.Issue(c.Request.Context(), userID, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":          issued.Token.ID,
		"name":        issued.Token.Name,
		"tokenPrefix": issued.Token.TokenPrefix,
		"token":       issued.Plaintext,
		"createdAt":   issued.Token.CreatedAt,
	})
}

// Revoke handles DELETE /api/tokens/:id
func (h *TokenHandler) Revoke(c *gin.Context) {
	h.act(c, h.agents.Revoke, "Token revoked successfully")
}

// Approve handles POST /api/tokens/:id/approve
func (h *TokenHandler) Approve(c *gin.Context) {
	h.act(c, h.agents.Approve, "Agent approved successfully")
}

// Reject handles POST /api/tokens/:id/reject
func (h *TokenHandler) Reject(c *gin.Context) {
	h.act(c, h.agents.Reject, "Agent rejected and reset")
}

// ApproveReplacement handles POST /api/tokens/:id/approve-replacement
func (h *TokenHandler) ApproveReplacement(c *gin.Context) {
	h.act(c, h.agents.ApproveReplacement, "Replacement agent approved successfully")
}

// RejectPending handles POST /api/tokens/:id/reject-pending
func (h *TokenHandler) RejectPending(c *gin.Context) {
	h.act(c, h.agents.RejectPending, "Pending replacement rejected, current agent retained")
}

type tokenAction func(ctx context.Context, tokenID int64, userID string) error

// act runs one id-scoped token action with shared parsing and error mapping.
func (h *TokenHandler) act(c *gin.Context, action tokenAction, successMessage string) {
	tokenID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Invalid token ID",
		})
		return
	}

	userID := middleware.UserID(c)
	if err := action(c.Request.Context(), tokenID, userID); err != nil {
		switch {
		case errors.Is(err, services.ErrTokenNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":             "not_found",
				"error_description": "Token not found",
			})
		case errors.Is(err, services.ErrNoPendingIdentity):
			c.JSON(http.StatusNotFound, gin.H{
				"error":             "not_found",
				"error_description": "Token not found or no pending replacement",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": successMessage})
}
