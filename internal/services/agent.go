package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-agentlink/agentlink/internal/metrics"
	"github.com/go-agentlink/agentlink/internal/models"
	"github.com/go-agentlink/agentlink/internal/store"
	"github.com/go-agentlink/agentlink/internal/util"
)

// Heartbeat outcomes returned to agents.
const (
	HeartbeatOK                     = "ok"
	HeartbeatPendingApproval        = "pending_approval"
	HeartbeatPendingReauthorization = "pending_reauthorization"
)

var (
	// ErrTokenNotFound covers both unknown and not-owned tokens so the
	// management surface never leaks other users' token IDs.
	ErrTokenNotFound = errors.New("token not found")

	// ErrNoPendingIdentity is returned by ApproveReplacement when there is
	// no competing claim to promote.
	ErrNoPendingIdentity = errors.New("no pending replacement")
)

// HeartbeatResult is the reconciler's verdict for one heartbeat.
type HeartbeatResult struct {
	Status     string
	ServerTime time.Time
	Message    string
}

// IssuedToken is returned on explicit token creation; Plaintext is handed
// out exactly once and never retrievable again.
type IssuedToken struct {
	Token     *models.AgentToken
	Plaintext string
}

// AgentService reconciles agent identity on every heartbeat and exposes
// the owner's token-management operations. The design is deliberately
// non-destructive: a heartbeat from an unknown agent never overwrites the
// trusted identity, it parks a pending claim for the owner to adjudicate.
type AgentService struct {
	store   *store.Store
	metrics metrics.Recorder
}

func NewAgentService(s *store.Store, m metrics.Recorder) *AgentService {
	return &AgentService{store: s, metrics: m}
}

// Heartbeat evaluates a claimed identity against the token's active and
// pending identities, freshly on every call.
//
// A claim matching the pending identity is checked before the active
// mismatch branch so a retrying replacement agent does not rewrite its own
// pending record on every poll.
func (s *AgentService) Heartbeat(ctx context.Context, token *models.AgentToken, identity models.AgentIdentity) (*HeartbeatResult, error) {
	now := time.Now()

	if token.HasPendingIdentity() && token.PendingAgentUuid == identity.UUID {
		if err := s.store.TouchAgentTokenLastUsed(token.ID); err != nil {
			return nil, err
		}
		s.metrics.RecordHeartbeat(HeartbeatPendingReauthorization)
		return &HeartbeatResult{
			Status:     HeartbeatPendingReauthorization,
			ServerTime: now,
			Message:    "Waiting for user to approve this agent as replacement.",
		}, nil
	}

	if token.HasActiveIdentity() && token.AgentUuid != identity.UUID {
		// A different physical agent is presenting this token. Park the
		// claim; the trusted identity stays untouched.
		if err := s.store.SetPendingIdentity(token.ID, identity); err != nil {
			return nil, err
		}
		if err := s.store.TouchAgentTokenLastUsed(token.ID); err != nil {
			return nil, err
		}
		log.Printf("[Agent] Token %s: pending replacement claim from uuid=%s", token.TokenPrefix, identity.UUID)
		s.metrics.RecordHeartbeat(HeartbeatPendingReauthorization)
		return &HeartbeatResult{
			Status:     HeartbeatPendingReauthorization,
			ServerTime: now,
			Message:    "A different agent is requesting to use this token. Waiting for user to approve replacement.",
		}, nil
	}

	// Identity matches the active one, or this is the first-ever heartbeat.
	// MAC/hostname/IP drift under a stable UUID is absorbed silently here.
	updated, err := s.store.RecordHeartbeatIdentity(token.ID, identity)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchAgentTokenLastUsed(token.ID); err != nil {
		return nil, err
	}

	if !updated.Approved {
		s.metrics.RecordHeartbeat(HeartbeatPendingApproval)
		return &HeartbeatResult{
			Status:     HeartbeatPendingApproval,
			ServerTime: now,
			Message:    "Waiting for approval from dashboard user.",
		}, nil
	}

	s.metrics.RecordHeartbeat(HeartbeatOK)
	return &HeartbeatResult{Status: HeartbeatOK, ServerTime: now}, nil
}

// Issue creates a named agent token directly from the dashboard. It starts
// unapproved and with no identity; the first heartbeat binds one.
func (s *AgentService) Issue(ctx context.Context, userID, name string) (*IssuedToken, error) {
	plaintext, hash, prefix, err := util.GenerateAgentToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate agent token: %w", err)
	}

	token, err := s.store.CreateAgentToken(userID, name, hash, prefix)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordTokenIssued("manual")
	return &IssuedToken{Token: token, Plaintext: plaintext}, nil
}

// List returns the caller's tokens, newest first.
func (s *AgentService) List(ctx context.Context, userID string) ([]models.AgentToken, error) {
	return s.store.ListAgentTokens(userID)
}

// Approve marks the currently bound agent as trusted. Identity is untouched.
func (s *AgentService) Approve(ctx context.Context, tokenID int64, userID string) error {
	ok, err := s.store.SetAgentTokenApproval(tokenID, userID, true)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	return nil
}

// Reject disowns the bound agent: approval off, all identity and pending
// fields cleared. The next connecting agent goes through first-heartbeat
// binding again.
func (s *AgentService) Reject(ctx context.Context, tokenID int64, userID string) error {
	ok, err := s.store.SetAgentTokenApproval(tokenID, userID, false)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	return nil
}

// ApproveReplacement promotes the pending identity to active, approving it
// and clearing the pending claim in one atomic step.
func (s *AgentService) ApproveReplacement(ctx context.Context, tokenID int64, userID string) error {
	ok, err := s.store.PromotePendingToActive(tokenID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoPendingIdentity
	}
	log.Printf("[Agent] Token %d: replacement approved", tokenID)
	return nil
}

// RejectPending drops the pending claim; the currently bound agent keeps
// working uninterrupted.
func (s *AgentService) RejectPending(ctx context.Context, tokenID int64, userID string) error {
	ok, err := s.store.ClearPendingIdentity(tokenID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	return nil
}

// Revoke terminally disables a token. No further heartbeats succeed.
func (s *AgentService) Revoke(ctx context.Context, tokenID int64, userID string) error {
	ok, err := s.store.RevokeAgentToken(tokenID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	s.metrics.RecordTokenRevoked()
	return nil
}
