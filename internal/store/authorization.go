package store

import (
	"errors"
	"time"

	"github.com/go-agentlink/agentlink/internal/models"

	"gorm.io/gorm"
)

// Device authorization operations. Every status change goes through
// TransitionAuthorization so concurrent requests race on a guarded UPDATE
// instead of read-then-write.

// CreateDeviceAuthorization persists a new pending authorization. A
// duplicate device-code hash or user code yields ErrCodeConflict; the
// caller regenerates both codes and retries.
func (s *Store) CreateDeviceAuthorization(auth *models.DeviceAuthorization) error {
	if err := s.db.Create(auth).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCodeConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetAuthorizationByDeviceCodeHash(hash string) (*models.DeviceAuthorization, error) {
	var auth models.DeviceAuthorization
	if err := s.db.Where("device_code_hash = ?", hash).First(&auth).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &auth, nil
}

func (s *Store) GetAuthorizationByUserCode(userCode string) (*models.DeviceAuthorization, error) {
	var auth models.DeviceAuthorization
	if err := s.db.Where("user_code = ?", userCode).First(&auth).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &auth, nil
}

// TransitionAuthorization moves an authorization from one status to
// another, binding userID when non-empty. ErrStaleTransition means the
// record was no longer in the expected status, typically because a
// concurrent request already consumed it.
func (s *Store) TransitionAuthorization(id int64, from, to string, userID string) error {
	updates := map[string]any{"status": to}
	if userID != "" {
		updates["user_id"] = userID
	}

	res := s.db.Model(&models.DeviceAuthorization{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// SweepExpiredAuthorizations marks all pending authorizations past their
// expiry as expired. Records are kept (not deleted) so late polls keep
// seeing expired_token rather than invalid_grant.
func (s *Store) SweepExpiredAuthorizations(now time.Time) (int64, error) {
	res := s.db.Model(&models.DeviceAuthorization{}).
		Where("status = ? AND expires_at < ?", models.AuthStatusPending, now).
		Update("status", models.AuthStatusExpired)
	return res.RowsAffected, res.Error
}

// CountPendingAuthorizations reports in-flight linking attempts, for gauges.
func (s *Store) CountPendingAuthorizations() (int64, error) {
	var count int64
	err := s.db.Model(&models.DeviceAuthorization{}).
		Where("status = ?", models.AuthStatusPending).
		Count(&count).Error
	return count, err
}
