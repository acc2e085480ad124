package handlers

import (
	"net/http"
	"time"

	"github.com/go-agentlink/agentlink/internal/middleware"
	"github.com/go-agentlink/agentlink/internal/models"
	"github.com/go-agentlink/agentlink/internal/services"
	"github.com/go-agentlink/agentlink/internal/util"

	"github.com/gin-gonic/gin"
)

type AgentHandler struct {
	agents *services.AgentService
}

func NewAgentHandler(agents *services.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

type heartbeatRequest struct {
	AgentUuid  string `json:"agentUuid" binding:"required"`
	MacAddress string `json:"macAddress"`
	Hostname   string `json:"hostname"`
	IPAddress  string `json:"ipAddress"`
}

// Heartbeat handles POST /api/agent/heartbeat, authenticated by bearer
// token (middleware.AgentAuth). The reconciler decides ok /
// pending_approval / pending_reauthorization from the claimed identity.
func (h *AgentHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "agentUuid is required",
		})
		return
	}

	if req.MacAddress != "" && !util.ValidMacAddress(req.MacAddress) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Invalid MAC address",
		})
		return
	}

	token := middleware.AgentToken(c)
	if token == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ipAddress := req.IPAddress
	if ipAddress == "" {
		ipAddress = c.ClientIP()
	}

	result, err := h.agents.Heartbeat(c.Request.Context(), token, models.AgentIdentity{
		UUID:       req.AgentUuid,
		MacAddress: req.MacAddress,
		Hostname:   req.Hostname,
		IPAddress:  ipAddress,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	resp := gin.H{
		"status":     result.Status,
		"serverTime": result.ServerTime.Format(time.RFC3339),
	}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	c.JSON(http.StatusOK, resp)
}
