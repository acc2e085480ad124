package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-agentlink/agentlink/internal/config"
	"github.com/go-agentlink/agentlink/internal/metrics"
	"github.com/go-agentlink/agentlink/internal/models"
	"github.com/go-agentlink/agentlink/internal/store"
	"github.com/go-agentlink/agentlink/internal/util"

	"github.com/google/uuid"
)

// Protocol-state outcomes of the device flow. These are expected results
// of the state machine, not failures; handlers map them to RFC 8628 error
// code strings.
var (
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrAccessDenied         = errors.New("access_denied")
	ErrExpiredToken         = errors.New("expired_token")
	ErrInvalidGrant         = errors.New("invalid_grant")

	ErrCodeNotFound = errors.New("user code not found")
	ErrCodeExpired  = errors.New("user code expired")
	ErrCodeUsed     = errors.New("user code already processed")

	ErrCodeGeneration = errors.New("could not generate unique codes")
)

// maxCodeAttempts bounds regeneration retries on a code collision.
const maxCodeAttempts = 3

// AuthorizeResult is returned to the agent starting a linking attempt.
type AuthorizeResult struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       int // seconds
	Interval        int // seconds
}

// ExchangeResult is returned on the single successful poll of an approved
// device code.
type ExchangeResult struct {
	AccessToken string
	AgentUUID   string
}

// DeviceFlowService implements the authorize / poll / verify / approve
// protocol for linking a headless agent to an account.
type DeviceFlowService struct {
	store   *store.Store
	config  *config.Config
	metrics metrics.Recorder
}

func NewDeviceFlowService(s *store.Store, cfg *config.Config, m metrics.Recorder) *DeviceFlowService {
	return &DeviceFlowService{store: s, config: cfg, metrics: m}
}

// Authorize creates a new pending authorization and returns the device
// code (for the agent) and user code (for the human). Code collisions are
// retried with fresh codes a bounded number of times.
func (s *DeviceFlowService) Authorize(ctx context.Context, hostname, macAddress string) (*AuthorizeResult, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		deviceCode, err := util.GenerateDeviceCode()
		if err != nil {
			s.metrics.RecordAuthorizationCreated(false)
			return nil, fmt.Errorf("failed to generate device code: %w", err)
		}
		userCode, err := util.GenerateUserCode()
		if err != nil {
			s.metrics.RecordAuthorizationCreated(false)
			return nil, fmt.Errorf("failed to generate user code: %w", err)
		}

		auth := &models.DeviceAuthorization{
			DeviceCodeHash: util.HashToken(deviceCode),
			UserCode:       userCode,
			Hostname:       hostname,
			MacAddress:     macAddress,
			Status:         models.AuthStatusPending,
			ExpiresAt:      time.Now().Add(s.config.DeviceAuthExpiration),
		}

		err = s.store.CreateDeviceAuthorization(auth)
		if errors.Is(err, store.ErrCodeConflict) {
			log.Printf("[DeviceFlow] Code collision on attempt %d, regenerating", attempt+1)
			continue
		}
		if err != nil {
			s.metrics.RecordAuthorizationCreated(false)
			return nil, err
		}

		s.metrics.RecordAuthorizationCreated(true)
		return &AuthorizeResult{
			DeviceCode:      deviceCode,
			UserCode:        userCode,
			VerificationURI: s.config.BaseURL + "/link",
			ExpiresIn:       int(s.config.DeviceAuthExpiration.Seconds()),
			Interval:        s.config.PollingInterval,
		}, nil
	}

	s.metrics.RecordAuthorizationCreated(false)
	return nil, ErrCodeGeneration
}

// Exchange handles one poll of the token endpoint. Exactly one poll of an
// approved code mints a token; the approved→exchanged transition is the
// guard, so a racing double-poll loses with ErrInvalidGrant.
func (s *DeviceFlowService) Exchange(ctx context.Context, deviceCode string) (*ExchangeResult, error) {
	auth, err := s.store.GetAuthorizationByDeviceCodeHash(util.HashToken(deviceCode))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.RecordExchange("invalid")
			return nil, ErrInvalidGrant
		}
		return nil, err
	}

	// Expiry is a computed predicate, not just a stored status: a code past
	// its lifetime fails the same way whether or not the sweeper ran.
	if auth.IsExpired() {
		if auth.Status == models.AuthStatusPending {
			if err := s.store.TransitionAuthorization(
				auth.ID, models.AuthStatusPending, models.AuthStatusExpired, "",
			); err != nil && !errors.Is(err, store.ErrStaleTransition) {
				return nil, err
			}
		}
		s.metrics.RecordExchange("expired")
		return nil, ErrExpiredToken
	}

	switch auth.Status {
	case models.AuthStatusPending:
		s.metrics.RecordExchange("pending")
		return nil, ErrAuthorizationPending

	case models.AuthStatusDenied:
		s.metrics.RecordExchange("denied")
		return nil, ErrAccessDenied

	case models.AuthStatusExpired:
		s.metrics.RecordExchange("expired")
		return nil, ErrExpiredToken

	case models.AuthStatusExchanged:
		// Replay of an already-consumed code
		s.metrics.RecordExchange("invalid")
		return nil, ErrInvalidGrant

	case models.AuthStatusApproved:
		return s.consumeApproved(auth)

	default:
		s.metrics.RecordExchange("invalid")
		return nil, ErrInvalidGrant
	}
}

// consumeApproved performs the exactly-once exchange of an approved
// authorization for a fresh agent token.
func (s *DeviceFlowService) consumeApproved(auth *models.DeviceAuthorization) (*ExchangeResult, error) {
	err := s.store.TransitionAuthorization(
		auth.ID, models.AuthStatusApproved, models.AuthStatusExchanged, "",
	)
	if errors.Is(err, store.ErrStaleTransition) {
		// Another poll consumed the approval first
		s.metrics.RecordExchange("invalid")
		return nil, ErrInvalidGrant
	}
	if err != nil {
		return nil, err
	}

	plaintext, hash, prefix, err := util.GenerateAgentToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate agent token: %w", err)
	}

	name := "Linked agent"
	if auth.Hostname != "" {
		name = "Agent: " + auth.Hostname
	}

	token, err := s.store.CreateAgentToken(auth.UserID, name, hash, prefix)
	if err != nil {
		return nil, err
	}

	// Pre-seed the active identity from the authorization's hints and
	// auto-approve: a human already approved this linking step.
	agentUUID := uuid.New().String()
	if _, err := s.store.RecordHeartbeatIdentity(token.ID, models.AgentIdentity{
		UUID:       agentUUID,
		MacAddress: auth.MacAddress,
		Hostname:   auth.Hostname,
	}); err != nil {
		return nil, err
	}
	if _, err := s.store.SetAgentTokenApproval(token.ID, auth.UserID, true); err != nil {
		return nil, err
	}

	s.metrics.RecordExchange("success")
	s.metrics.RecordTokenIssued("device_flow")
	log.Printf("[DeviceFlow] Exchanged authorization %d for agent token %s", auth.ID, prefix)

	return &ExchangeResult{AccessToken: plaintext, AgentUUID: agentUUID}, nil
}

// Verify looks up a pending authorization by user code and returns its
// untrusted hints for human confirmation. Read-only; never advances state.
func (s *DeviceFlowService) Verify(ctx context.Context, userCode string) (*models.DeviceAuthorization, error) {
	auth, err := s.lookupUserCode(userCode)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeNotFound):
			s.metrics.RecordVerify("invalid")
		case errors.Is(err, ErrCodeExpired):
			s.metrics.RecordVerify("expired")
		case errors.Is(err, ErrCodeUsed):
			s.metrics.RecordVerify("used")
		}
		return nil, err
	}
	s.metrics.RecordVerify("success")
	return auth, nil
}

// Approve records the human's decision on a pending authorization. The
// pending→approved/denied transition is guarded so a duplicate click or a
// racing sweep loses cleanly.
func (s *DeviceFlowService) Approve(ctx context.Context, userCode string, approved bool, actingUserID string) error {
	auth, err := s.lookupUserCode(userCode)
	if err != nil {
		return err
	}

	newStatus := models.AuthStatusApproved
	ownerID := actingUserID
	if !approved {
		newStatus = models.AuthStatusDenied
		ownerID = "" // a denied record never resolves to an owner
	}

	err = s.store.TransitionAuthorization(auth.ID, models.AuthStatusPending, newStatus, ownerID)
	if errors.Is(err, store.ErrStaleTransition) {
		return ErrCodeUsed
	}
	if err != nil {
		return err
	}

	s.metrics.RecordApprove(approved)
	return nil
}

// lookupUserCode normalizes and resolves a user code, applying the shared
// verify/approve pre-checks: not found, expired, already processed.
func (s *DeviceFlowService) lookupUserCode(userCode string) (*models.DeviceAuthorization, error) {
	normalized := util.NormalizeUserCode(userCode)

	auth, err := s.store.GetAuthorizationByUserCode(normalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	if auth.IsExpired() || auth.Status == models.AuthStatusExpired {
		return nil, ErrCodeExpired
	}
	if auth.Status != models.AuthStatusPending {
		return nil, ErrCodeUsed
	}
	return auth, nil
}
