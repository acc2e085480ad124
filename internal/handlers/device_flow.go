package handlers

import (
	"errors"
	"net/http"

	"github.com/go-agentlink/agentlink/internal/middleware"
	"github.com/go-agentlink/agentlink/internal/services"
	"github.com/go-agentlink/agentlink/internal/util"

	"github.com/gin-gonic/gin"
)

type DeviceFlowHandler struct {
	flow *services.DeviceFlowService
}

func NewDeviceFlowHandler(flow *services.DeviceFlowService) *DeviceFlowHandler {
	return &DeviceFlowHandler{flow: flow}
}

type authorizeRequest struct {
	Hostname   string `json:"hostname"`
	MacAddress string `json:"macAddress"`
}

// Authorize handles POST /api/device/authorize.
// An unauthenticated agent starts the linking flow; hostname and MAC are
// untrusted display hints and are validated for format only.
func (h *DeviceFlowHandler) Authorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Malformed request body",
		})
		return
	}

	if req.Hostname != "" && !util.ValidHostname(req.Hostname) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Invalid hostname",
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

	result, err := h.flow.Authorize(c.Request.Context(), req.Hostname, req.MacAddress)
	if err != nil {
		if errors.Is(err, services.ErrCodeGeneration) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":             "code_generation_failed",
				"error_description": "Please try again",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_code":      result.DeviceCode,
		"user_code":        result.UserCode,
		"verification_uri": result.VerificationURI,
		"expires_in":       result.ExpiresIn,
		"interval":         result.Interval,
	})
}

type tokenRequest struct {
	DeviceCode string `json:"device_code"`
}

// Token handles POST /api/device/token, the agent's polling endpoint.
// authorization_pending is the expected steady state, not a failure; the
// agent keeps polling at the suggested interval until a terminal outcome.
func (h *DeviceFlowHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DeviceCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "device_code is required",
		})
		return
	}

	result, err := h.flow.Exchange(c.Request.Context(), req.DeviceCode)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAuthorizationPending):
			c.JSON(http.StatusBadRequest, gin.H{"error": "authorization_pending"})
		case errors.Is(err, services.ErrAccessDenied):
			c.JSON(http.StatusBadRequest, gin.H{"error": "access_denied"})
		case errors.Is(err, services.ErrExpiredToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "expired_token"})
		case errors.Is(err, services.ErrInvalidGrant):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": result.AccessToken,
		"token_type":   "Bearer",
		"agent_uuid":   result.AgentUUID,
	})
}

type verifyRequest struct {
	UserCode string `json:"user_code"`
}

// Verify handles POST /api/device/verify. The signed-in user types the
// code from the agent; the response shows the untrusted hints for
// confirmation. Read-only.
func (h *DeviceFlowHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_code",
			"error_description": "user_code is required",
		})
		return
	}

	auth, err := h.flow.Verify(c.Request.Context(), req.UserCode)
	if err != nil {
		respondUserCodeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hostname":   auth.Hostname,
		"macAddress": auth.MacAddress,
		"createdAt":  auth.CreatedAt,
	})
}

type approveRequest struct {
	UserCode string `json:"user_code" binding:"required"`
	Approved *bool  `json:"approved" binding:"required"`
}

// Approve handles POST /api/device/approve. Binds the acting user as the
// authorization's owner on approval.
func (h *DeviceFlowHandler) Approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "user_code and approved are required",
		})
		return
	}

	userID := middleware.UserID(c)
	if err := h.flow.Approve(c.Request.Context(), req.UserCode, *req.Approved, userID); err != nil {
		respondUserCodeError(c, err)
		return
	}

	message := "Device linked successfully"
	if !*req.Approved {
		message = "Device linking denied"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

// respondUserCodeError maps the shared verify/approve pre-check errors to
// distinct responses so the dashboard can show specific messages.
func respondUserCodeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "invalid_code",
			"error_description": "Code not found",
		})
	case errors.Is(err, services.ErrCodeExpired):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "expired_code",
			"error_description": "Code has expired",
		})
	case errors.Is(err, services.ErrCodeUsed):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "code_used",
			"error_description": "Code has already been processed",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
	}
}
