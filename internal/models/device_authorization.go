package models

import (
	"time"
)

// Device authorization statuses. A record leaves "pending" exactly once;
// "exchanged" is reachable only from "approved".
const (
	AuthStatusPending   = "pending"
	AuthStatusApproved  = "approved"
	AuthStatusDenied    = "denied"
	AuthStatusExpired   = "expired"
	AuthStatusExchanged = "exchanged"
)

// DeviceAuthorization is one in-flight device-linking attempt. The device
// code is stored only as a SHA-256 hash; the user code is the short
// human-typed lookup key. Hostname and MAC are untrusted hints shown to the
// approving user.
type DeviceAuthorization struct {
	ID             int64     `gorm:"primaryKey;autoIncrement"`
	DeviceCode     string    `gorm:"-"` // plaintext, in-memory only, never persisted
	DeviceCodeHash string    `gorm:"size:64;uniqueIndex;not null"`
	UserCode       string    `gorm:"size:16;uniqueIndex;not null"`
	Hostname       string    `gorm:"size:255"`
	MacAddress     string    `gorm:"size:17"`
	UserID         string    `gorm:"size:255"` // set when approved
	Status         string    `gorm:"size:20;not null;default:pending"`
	ExpiresAt      time.Time `gorm:"not null"`
	CreatedAt      time.Time
}

// IsExpired reports expiry against the wall clock, independent of whether
// the sweeper has already marked the record.
func (a *DeviceAuthorization) IsExpired() bool {
	return time.Now().After(a.ExpiresAt)
}
