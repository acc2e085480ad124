package models

import (
	"time"
)

// User is a dashboard account that approves device links and manages agent
// tokens. Account management itself is out of scope; this carries just
// enough to authenticate the approving human.
type User struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null;default:'user'"` // "admin" or "user"

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}
