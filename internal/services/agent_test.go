package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-agentlink/agentlink/internal/metrics"
	"github.com/go-agentlink/agentlink/internal/models"
	"github.com/go-agentlink/agentlink/internal/store"
	"github.com/go-agentlink/agentlink/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAgentService(t *testing.T, s *store.Store) *AgentService {
	return NewAgentService(s, metrics.NewNoopMetrics())
}

func issueTestToken(t *testing.T, svc *AgentService, userID string) *IssuedToken {
	issued, err := svc.Issue(context.Background(), userID, "CI runner")
	require.NoError(t, err)
	return issued
}

// reload fetches the current row so each heartbeat sees fresh state, the
// way the auth middleware does per request.
func reload(t *testing.T, s *store.Store, plaintext string) *models.AgentToken {
	token, err := s.GetAgentTokenByHash(util.HashToken(plaintext))
	require.NoError(t, err)
	return token
}

func TestHeartbeat_FirstBindsIdentity(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	identity := models.AgentIdentity{
		UUID:       "uuid-1",
		MacAddress: "AA:BB:CC:DD:EE:FF",
		Hostname:   "runner-01",
		IPAddress:  "10.0.0.5",
	}

	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), identity)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatPendingApproval, result.Status)
	assert.NotEmpty(t, result.Message)

	stored := reload(t, s, issued.Plaintext)
	assert.Equal(t, "uuid-1", stored.AgentUuid)
	assert.Equal(t, "runner-01", stored.AgentHostname)
	assert.NotNil(t, stored.FirstConnectedAt)
	assert.NotNil(t, stored.LastUsedAt)
	assert.False(t, stored.Approved)
}

func TestHeartbeat_ApprovedOK(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	identity := models.AgentIdentity{UUID: "uuid-1", Hostname: "runner-01"}
	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), identity)
	require.NoError(t, err)

	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))

	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), identity)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatOK, result.Status)
	assert.Empty(t, result.Message)
}

func TestHeartbeat_DriftAbsorbedUnderStableUUID(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	first := models.AgentIdentity{UUID: "uuid-1", Hostname: "runner-01", MacAddress: "AA:BB:CC:DD:EE:FF"}
	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), first)
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))

	// Same UUID, renamed host and new MAC: still the same trusted agent.
	drifted := models.AgentIdentity{UUID: "uuid-1", Hostname: "runner-01-renamed", MacAddress: "11:22:33:44:55:66"}
	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), drifted)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatOK, result.Status)

	stored := reload(t, s, issued.Plaintext)
	assert.Equal(t, "runner-01-renamed", stored.AgentHostname)
	assert.Equal(t, "11:22:33:44:55:66", stored.AgentMacAddress)
	assert.False(t, stored.HasPendingIdentity())
}

func TestHeartbeat_MismatchParksPendingClaim(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	original := models.AgentIdentity{UUID: "uuid-old", Hostname: "old-host"}
	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), original)
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))

	imposter := models.AgentIdentity{UUID: "uuid-new", Hostname: "new-host"}
	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), imposter)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatPendingReauthorization, result.Status)

	stored := reload(t, s, issued.Plaintext)
	// The trusted identity is untouched; the claim is parked.
	assert.Equal(t, "uuid-old", stored.AgentUuid)
	assert.Equal(t, "old-host", stored.AgentHostname)
	assert.Equal(t, "uuid-new", stored.PendingAgentUuid)
	assert.Equal(t, "new-host", stored.PendingAgentHostname)
	assert.NotNil(t, stored.PendingAgentAt)

	// The original agent keeps working throughout.
	result, err = svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), original)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatOK, result.Status)
}

func TestHeartbeat_PendingRetryDoesNotRewriteClaim(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), models.AgentIdentity{UUID: "uuid-old"})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))

	imposter := models.AgentIdentity{UUID: "uuid-new", Hostname: "new-host"}
	_, err = svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), imposter)
	require.NoError(t, err)

	firstClaim := reload(t, s, issued.Plaintext)
	require.NotNil(t, firstClaim.PendingAgentAt)

	time.Sleep(10 * time.Millisecond)

	// The replacement agent retries. Its claim is acknowledged without
	// being re-recorded.
	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), imposter)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatPendingReauthorization, result.Status)

	secondClaim := reload(t, s, issued.Plaintext)
	assert.WithinDuration(t, *firstClaim.PendingAgentAt, *secondClaim.PendingAgentAt, time.Millisecond)
}

func TestApproveReplacement(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	original := models.AgentIdentity{UUID: "uuid-old", Hostname: "old-host"}
	replacement := models.AgentIdentity{UUID: "uuid-new", Hostname: "new-host"}

	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), original)
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))
	_, err = svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), replacement)
	require.NoError(t, err)

	require.NoError(t, svc.ApproveReplacement(context.Background(), issued.Token.ID, "user-1"))

	// The replacement is now the trusted agent.
	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), replacement)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatOK, result.Status)

	// The displaced agent is now the stranger.
	result, err = svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), original)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatPendingReauthorization, result.Status)
}

func TestApproveReplacement_NoPendingClaim(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	err := svc.ApproveReplacement(context.Background(), issued.Token.ID, "user-1")
	assert.ErrorIs(t, err, ErrNoPendingIdentity)
}

func TestRejectPending(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	original := models.AgentIdentity{UUID: "uuid-old"}
	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), original)
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))
	_, err = svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), models.AgentIdentity{UUID: "uuid-new"})
	require.NoError(t, err)

	require.NoError(t, svc.RejectPending(context.Background(), issued.Token.ID, "user-1"))

	stored := reload(t, s, issued.Plaintext)
	assert.False(t, stored.HasPendingIdentity())

	// Current agent keeps working uninterrupted.
	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), original)
	require.NoError(t, err)
	assert.Equal(t, HeartbeatOK, result.Status)
}

func TestReject_FullReset(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	_, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), models.AgentIdentity{UUID: "uuid-old"})
	require.NoError(t, err)
	require.NoError(t, svc.Approve(context.Background(), issued.Token.ID, "user-1"))

	require.NoError(t, svc.Reject(context.Background(), issued.Token.ID, "user-1"))

	// The token survives but remembers nothing; the next agent binds as a
	// first-ever connection.
	result, err := svc.Heartbeat(context.Background(), reload(t, s, issued.Plaintext), models.AgentIdentity{UUID: "uuid-other"})
	require.NoError(t, err)
	assert.Equal(t, HeartbeatPendingApproval, result.Status)

	stored := reload(t, s, issued.Plaintext)
	assert.Equal(t, "uuid-other", stored.AgentUuid)
}

func TestRevoke(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	require.NoError(t, svc.Revoke(context.Background(), issued.Token.ID, "user-1"))

	// A revoked token no longer authenticates.
	_, err := s.GetAgentTokenByHash(util.HashToken(issued.Plaintext))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Revoking again reports not found.
	err = svc.Revoke(context.Background(), issued.Token.ID, "user-1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestTokenActions_WrongOwner(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)
	issued := issueTestToken(t, svc, "user-1")

	assert.ErrorIs(t, svc.Approve(context.Background(), issued.Token.ID, "user-2"), ErrTokenNotFound)
	assert.ErrorIs(t, svc.Reject(context.Background(), issued.Token.ID, "user-2"), ErrTokenNotFound)
	assert.ErrorIs(t, svc.RejectPending(context.Background(), issued.Token.ID, "user-2"), ErrTokenNotFound)
	assert.ErrorIs(t, svc.Revoke(context.Background(), issued.Token.ID, "user-2"), ErrTokenNotFound)
}

func TestIssue(t *testing.T) {
	s := setupTestStore(t)
	svc := newTestAgentService(t, s)

	issued := issueTestToken(t, svc, "user-1")
	assert.NotEmpty(t, issued.Plaintext)
	assert.Equal(t, issued.Plaintext[:8], issued.Token.TokenPrefix)
	assert.False(t, issued.Token.Approved)
	assert.False(t, issued.Token.HasActiveIdentity())

	// Only the hash is persisted.
	stored := reload(t, s, issued.Plaintext)
	assert.Equal(t, util.HashToken(issued.Plaintext), stored.TokenHash)
	assert.NotContains(t, stored.TokenHash, issued.Plaintext)
}
