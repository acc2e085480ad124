package store

import (
	"time"

	"github.com/go-agentlink/agentlink/internal/models"

	"gorm.io/gorm"
)

// Agent token operations. Identity mutations are single guarded UPDATEs;
// the reconciler never does read-then-write for a transition.

func (s *Store) CreateAgentToken(userID, name, tokenHash, prefix string) (*models.AgentToken, error) {
	token := &models.AgentToken{
		UserID:      userID,
		Name:        name,
		TokenHash:   tokenHash,
		TokenPrefix: prefix,
	}
	if err := s.db.Create(token).Error; err != nil {
		return nil, err
	}
	return token, nil
}

// GetAgentTokenByHash resolves a bearer token presented by an agent.
// Revoked tokens are excluded, which is what makes revocation terminal.
func (s *Store) GetAgentTokenByHash(hash string) (*models.AgentToken, error) {
	var token models.AgentToken
	err := s.db.Where("token_hash = ? AND revoked_at IS NULL", hash).First(&token).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &token, nil
}

func (s *Store) GetAgentTokenByID(id int64, userID string) (*models.AgentToken, error) {
	var token models.AgentToken
	err := s.db.Where("id = ? AND user_id = ?", id, userID).First(&token).Error
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &token, nil
}

func (s *Store) ListAgentTokens(userID string) ([]models.AgentToken, error) {
	var tokens []models.AgentToken
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&tokens).Error
	return tokens, err
}

// SetAgentTokenApproval flips the approval flag. Rejecting (approved=false)
// also clears the active and pending identities so the next heartbeat is
// treated as a first-ever connection.
func (s *Store) SetAgentTokenApproval(id int64, userID string, approved bool) (bool, error) {
	updates := map[string]any{"approved": approved}
	if !approved {
		updates["agent_uuid"] = ""
		updates["agent_mac_address"] = ""
		updates["agent_hostname"] = ""
		updates["agent_ip_address"] = ""
		updates["first_connected_at"] = nil
		updates["last_heartbeat_at"] = nil
		updates["pending_agent_uuid"] = ""
		updates["pending_agent_mac_address"] = ""
		updates["pending_agent_hostname"] = ""
		updates["pending_agent_ip_address"] = ""
		updates["pending_agent_at"] = nil
	}

	res := s.db.Model(&models.AgentToken{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", id, userID).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// RecordHeartbeatIdentity sets the active identity from a heartbeat.
// FirstConnectedAt is assigned inside the UPDATE via COALESCE so that
// concurrent first heartbeats settle on a single timestamp.
func (s *Store) RecordHeartbeatIdentity(id int64, identity models.AgentIdentity) (*models.AgentToken, error) {
	now := time.Now()
	res := s.db.Model(&models.AgentToken{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"agent_uuid":         identity.UUID,
			"agent_mac_address":  identity.MacAddress,
			"agent_hostname":     identity.Hostname,
			"agent_ip_address":   identity.IPAddress,
			"first_connected_at": gorm.Expr("COALESCE(first_connected_at, ?)", now),
			"last_heartbeat_at":  now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	var token models.AgentToken
	if err := s.db.First(&token, id).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &token, nil
}

// SetPendingIdentity records a competing identity claim without touching
// the active identity.
func (s *Store) SetPendingIdentity(id int64, identity models.AgentIdentity) error {
	return s.db.Model(&models.AgentToken{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"pending_agent_uuid":        identity.UUID,
			"pending_agent_mac_address": identity.MacAddress,
			"pending_agent_hostname":    identity.Hostname,
			"pending_agent_ip_address":  identity.IPAddress,
			"pending_agent_at":          time.Now(),
		}).Error
}

// ClearPendingIdentity drops a pending claim, leaving the active identity
// and its approval untouched.
func (s *Store) ClearPendingIdentity(id int64, userID string) (bool, error) {
	res := s.db.Model(&models.AgentToken{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"pending_agent_uuid":        "",
			"pending_agent_mac_address": "",
			"pending_agent_hostname":    "",
			"pending_agent_ip_address":  "",
			"pending_agent_at":          nil,
		})
	return res.RowsAffected > 0, res.Error
}

// PromotePendingToActive atomically makes the pending identity the active
// one, approves the token, and clears the pending fields. Returns false
// when no pending identity exists.
func (s *Store) PromotePendingToActive(id int64, userID string) (bool, error) {
	now := time.Now()
	res := s.db.Model(&models.AgentToken{}).
		Where("id = ? AND user_id = ? AND pending_agent_uuid <> ''", id, userID).
		Updates(map[string]any{
			"agent_uuid":                gorm.Expr("pending_agent_uuid"),
			"agent_mac_address":         gorm.Expr("pending_agent_mac_address"),
			"agent_hostname":            gorm.Expr("pending_agent_hostname"),
			"agent_ip_address":          gorm.Expr("pending_agent_ip_address"),
			"approved":                  true,
			"first_connected_at":        gorm.Expr("COALESCE(first_connected_at, ?)", now),
			"last_heartbeat_at":         now,
			"pending_agent_uuid":        "",
			"pending_agent_mac_address": "",
			"pending_agent_hostname":    "",
			"pending_agent_ip_address":  "",
			"pending_agent_at":          nil,
		})
	return res.RowsAffected > 0, res.Error
}

// TouchAgentTokenLastUsed records that the token authenticated a request.
func (s *Store) TouchAgentTokenLastUsed(id int64) error {
	return s.db.Model(&models.AgentToken{}).
		Where("id = ?", id).
		Update("last_used_at", time.Now()).Error
}

// RevokeAgentToken terminally disables a token. Idempotence guard: a
// second revoke finds no unrevoked row and reports false.
func (s *Store) RevokeAgentToken(id int64, userID string) (bool, error) {
	res := s.db.Model(&models.AgentToken{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", id, userID).
		Update("revoked_at", time.Now())
	return res.RowsAffected > 0, res.Error
}

// CountActiveAgentTokens reports unrevoked tokens, for gauges.
func (s *Store) CountActiveAgentTokens() (int64, error) {
	var count int64
	err := s.db.Model(&models.AgentToken{}).
		Where("revoked_at IS NULL").
		Count(&count).Error
	return count, err
}
