package models

import (
	"time"
)

// AgentIdentity is the identity an agent claims on a heartbeat. The UUID is
// the only trust-bearing field; MAC, hostname and IP are descriptive.
type AgentIdentity struct {
	UUID       string
	MacAddress string
	Hostname   string
	IPAddress  string
}

// AgentToken binds one account to one physical agent through an opaque
// bearer token. Only the SHA-256 hash and a display prefix are persisted.
//
// The active identity (AgentUuid...) is the agent currently trusted for
// this token. The pending identity (PendingAgentUuid...) is a competing
// claim from a different agent, held for human adjudication; the two never
// both satisfy a heartbeat at the same time.
type AgentToken struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"size:255;not null;index"`
	Name        string `gorm:"not null"`
	TokenHash   string `gorm:"size:64;uniqueIndex;not null"`
	TokenPrefix string `gorm:"size:8;not null"`
	Approved    bool   `gorm:"default:false"`
	LastUsedAt  *time.Time
	CreatedAt   time.Time
	RevokedAt   *time.Time

	// Active identity
	AgentUuid        string `gorm:"size:36"`
	AgentMacAddress  string `gorm:"size:17"`
	AgentHostname    string
	AgentIpAddress   string
	FirstConnectedAt *time.Time
	LastHeartbeatAt  *time.Time

	// Pending replacement identity
	PendingAgentUuid       string `gorm:"size:36"`
	PendingAgentMacAddress string `gorm:"size:17"`
	PendingAgentHostname   string
	PendingAgentIpAddress  string
	PendingAgentAt         *time.Time
}

func (t *AgentToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// HasActiveIdentity reports whether any agent has ever bound to this token.
func (t *AgentToken) HasActiveIdentity() bool {
	return t.AgentUuid != ""
}

// HasPendingIdentity reports whether a replacement claim is awaiting adjudication.
func (t *AgentToken) HasPendingIdentity() bool {
	return t.PendingAgentUuid != ""
}
