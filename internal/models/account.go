package models

import (
	"time"
)

type Account struct {
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"` // Never expose in JSON
	FailedAttempts int        `json:"-"`
	LockedUntil    *time.Time `json:"-"`
	Version        int64      `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsLocked reports whether the lock recorded on the account is still active at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	ChallengeResponse string `json:"captcha"`
	SessionID         string `json:"-"`
	RemoteAddr        string `json:"-"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}
