package store

import (
	"sync"
	"testing"
	"time"

	"github.com/go-agentlink/agentlink/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	// Use in-memory SQLite database for testing
	s, err := New("sqlite", ":memory:", "test-password")
	require.NoError(t, err)
	return s
}

func createTestAuthorization(t *testing.T, s *Store, expiresAt time.Time) *models.DeviceAuthorization {
	auth := &models.DeviceAuthorization{
		DeviceCodeHash: uuid.New().String(),
		UserCode:       userCodeFromUUID(),
		Hostname:       "build-host",
		MacAddress:     "AA:BB:CC:DD:EE:FF",
		Status:         models.AuthStatusPending,
		ExpiresAt:      expiresAt,
	}
	require.NoError(t, s.CreateDeviceAuthorization(auth))
	return auth
}

// userCodeFromUUID derives a unique short code for test rows. Real user
// codes come from util.GenerateUserCode; uniqueness is all that matters
// here.
func userCodeFromUUID() string {
	u := uuid.New().String()
	return u[:4] + "-" + u[4:8]
}

func TestCreateDeviceAuthorization_DuplicateUserCode(t *testing.T) {
	s := setupTestStore(t)

	first := createTestAuthorization(t, s, time.Now().Add(15*time.Minute))

	dup := &models.DeviceAuthorization{
		DeviceCodeHash: uuid.New().String(),
		UserCode:       first.UserCode,
		Status:         models.AuthStatusPending,
		ExpiresAt:      time.Now().Add(15 * time.Minute),
	}
	err := s.CreateDeviceAuthorization(dup)
	assert.ErrorIs(t, err, ErrCodeConflict)
}

func TestCreateDeviceAuthorization_DuplicateDeviceCodeHash(t *testing.T) {
	s := setupTestStore(t)

	first := createTestAuthorization(t, s, time.Now().Add(15*time.Minute))

	dup := &models.DeviceAuthorization{
		DeviceCodeHash: first.DeviceCodeHash,
		UserCode:       userCodeFromUUID(),
		Status:         models.AuthStatusPending,
		ExpiresAt:      time.Now().Add(15 * time.Minute),
	}
	err := s.CreateDeviceAuthorization(dup)
	assert.ErrorIs(t, err, ErrCodeConflict)
}

func TestTransitionAuthorization(t *testing.T) {
	s := setupTestStore(t)
	auth := createTestAuthorization(t, s, time.Now().Add(15*time.Minute))

	err := s.TransitionAuthorization(auth.ID, models.AuthStatusPending, models.AuthStatusApproved, "user-1")
	require.NoError(t, err)

	stored, err := s.GetAuthorizationByUserCode(auth.UserCode)
	require.NoError(t, err)
	assert.Equal(t, models.AuthStatusApproved, stored.Status)
	assert.Equal(t, "user-1", stored.UserID)

	// Second transition from pending must fail: the record already moved on.
	err = s.TransitionAuthorization(auth.ID, models.AuthStatusPending, models.AuthStatusDenied, "")
	assert.ErrorIs(t, err, ErrStaleTransition)
}

func TestTransitionAuthorization_ConcurrentSingleWinner(t *testing.T) {
	s := setupTestStore(t)
	auth := createTestAuthorization(t, s, time.Now().Add(15*time.Minute))
	require.NoError(t, s.TransitionAuthorization(auth.ID, models.AuthStatusPending, models.AuthStatusApproved, "user-1"))

	const attempts = 10
	var wg sync.WaitGroup
	results := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.TransitionAuthorization(
				auth.ID, models.AuthStatusApproved, models.AuthStatusExchanged, "",
			)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, ErrStaleTransition)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestSweepExpiredAuthorizations(t *testing.T) {
	s := setupTestStore(t)

	expired := createTestAuthorization(t, s, time.Now().Add(-1*time.Minute))
	fresh := createTestAuthorization(t, s, time.Now().Add(15*time.Minute))
	approved := createTestAuthorization(t, s, time.Now().Add(-1*time.Minute))
	require.NoError(t, s.TransitionAuthorization(approved.ID, models.AuthStatusPending, models.AuthStatusApproved, "user-1"))

	count, err := s.SweepExpiredAuthorizations(time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// Only the expired pending record was marked; the record is kept, not
	// deleted, so a later lookup still resolves it.
	stored, err := s.GetAuthorizationByUserCode(expired.UserCode)
	require.NoError(t, err)
	assert.Equal(t, models.AuthStatusExpired, stored.Status)

	stored, err = s.GetAuthorizationByUserCode(fresh.UserCode)
	require.NoError(t, err)
	assert.Equal(t, models.AuthStatusPending, stored.Status)

	stored, err = s.GetAuthorizationByUserCode(approved.UserCode)
	require.NoError(t, err)
	assert.Equal(t, models.AuthStatusApproved, stored.Status)
}

func TestAgentToken_LookupAndRevoke(t *testing.T) {
	s := setupTestStore(t)

	token, err := s.CreateAgentToken("user-1", "CI runner", "hash-1", "alk_abcd")
	require.NoError(t, err)

	found, err := s.GetAgentTokenByHash("hash-1")
	require.NoError(t, err)
	assert.Equal(t, token.ID, found.ID)

	ok, err := s.RevokeAgentToken(token.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Revoked tokens no longer resolve by hash.
	_, err = s.GetAgentTokenByHash("hash-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Second revoke finds no unrevoked row.
	ok, err = s.RevokeAgentToken(token.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeAgentToken_WrongOwner(t *testing.T) {
	s := setupTestStore(t)

	token, err := s.CreateAgentToken("user-1", "CI runner", "hash-1", "alk_abcd")
	require.NoError(t, err)

	ok, err := s.RevokeAgentToken(token.ID, "user-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordHeartbeatIdentity_FirstConnectedAtStable(t *testing.T) {
	s := setupTestStore(t)

	token, err := s.CreateAgentToken("user-1", "CI runner", "hash-1", "alk_abcd")
	require.NoError(t, err)

	identity := models.AgentIdentity{
		UUID:       uuid.New().String(),
		MacAddress: "AA:BB:CC:DD:EE:FF",
		Hostname:   "runner-01",
		IPAddress:  "10.0.0.5",
	}

	first, err := s.RecordHeartbeatIdentity(token.ID, identity)
	require.NoError(t, err)
	require.NotNil(t, first.FirstConnectedAt)
	assert.Equal(t, identity.UUID, first.AgentUuid)

	time.Sleep(10 * time.Millisecond)

	identity.Hostname = "runner-01-renamed"
	second, err := s.RecordHeartbeatIdentity(token.ID, identity)
	require.NoError(t, err)
	require.NotNil(t, second.FirstConnectedAt)

	// FirstConnectedAt survives later heartbeats; LastHeartbeatAt advances.
	assert.Equal(t, first.FirstConnectedAt.Unix(), second.FirstConnectedAt.Unix())
	assert.Equal(t, "runner-01-renamed", second.AgentHostname)
	assert.True(t, second.LastHeartbeatAt.After(*first.LastHeartbeatAt) ||
		second.LastHeartbeatAt.Equal(*first.LastHeartbeatAt))
}

func TestPromotePendingToActive(t *testing.T) {
	s := setupTestStore(t)

	token, err := s.CreateAgentToken("user-1", "CI runner", "hash-1", "alk_abcd")
	require.NoError(t, err)

	// No pending identity yet: promotion reports false.
	ok, err := s.PromotePendingToActive(token.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	active := models.AgentIdentity{UUID: "uuid-old", Hostname: "old-host"}
	_, err = s.RecordHeartbeatIdentity(token.ID, active)
	require.NoError(t, err)

	pending := models.AgentIdentity{
		UUID:       "uuid-new",
		MacAddress: "11:22:33:44:55:66",
		Hostname:   "new-host",
		IPAddress:  "10.0.0.9",
	}
	require.NoError(t, s.SetPendingIdentity(token.ID, pending))

	ok, err = s.PromotePendingToActive(token.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := s.GetAgentTokenByID(token.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "uuid-new", stored.AgentUuid)
	assert.Equal(t, "new-host", stored.AgentHostname)
	assert.Equal(t, "11:22:33:44:55:66", stored.AgentMacAddress)
	assert.True(t, stored.Approved)
	assert.False(t, stored.HasPendingIdentity())
	assert.Nil(t, stored.PendingAgentAt)
}

func TestClearPendingIdentity(t *testing.T) {
	s := setupTestStore(t)

	token, err := s.CreateAgentToken("user-1", "CI runner", "hash-1", "alk_abcd")
	require.NoError(t, err)

	active := models.AgentIdentity{UUID: "uuid-old", Hostname: "old-host"}
	_, err = s.RecordHeartbeatIdentity(token.ID, active)
	require.NoError(t, err)
	require.NoError(t, s.SetPendingIdentity(token.ID, models.AgentIdentity{UUID: "uuid-new"}))

	ok, err := s.ClearPendingIdentity(token.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := s.GetAgentTokenByID(token.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.HasPendingIdentity())
	// Active identity untouched.
	assert.Equal(t, "uuid-old", stored.AgentUuid)
}

func TestSetAgentTokenApproval_RejectClearsIdentity(t *testing.T) {
	s := setupTestStore(t)

	token, err := s.CreateAgentToken("user-1", "CI runner", "hash-1", "alk_abcd")
	require.NoError(t, err)

	_, err = s.RecordHeartbeatIdentity(token.ID, models.AgentIdentity{UUID: "uuid-old", Hostname: "old-host"})
	require.NoError(t, err)
	require.NoError(t, s.SetPendingIdentity(token.ID, models.AgentIdentity{UUID: "uuid-new"}))

	ok, err := s.SetAgentTokenApproval(token.ID, "user-1", false)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := s.GetAgentTokenByID(token.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, stored.Approved)
	assert.False(t, stored.HasActiveIdentity())
	assert.False(t, stored.HasPendingIdentity())
	assert.Nil(t, stored.FirstConnectedAt)
	assert.Nil(t, stored.LastHeartbeatAt)
}

func TestListAgentTokens_OwnerScoped(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.CreateAgentToken("user-1", "Mine", "hash-1", "alk_aaaa")
	require.NoError(t, err)
	_, err = s.CreateAgentToken("user-2", "Theirs", "hash-2", "alk_bbbb")
	require.NoError(t, err)

	tokens, err := s.ListAgentTokens("user-1")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "Mine", tokens[0].Name)
}

func TestSeedAdmin(t *testing.T) {
	s := setupTestStore(t)

	user, err := s.GetUserByUsername("admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", user.Role)
	assert.True(t, user.IsAdmin())
	assert.NotEmpty(t, user.PasswordHash)
}
