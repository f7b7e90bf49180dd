// Package session gates access to wallet key material: it authenticates
// passwords against the stored hash, issues and validates session tokens,
// and enforces lockout after repeated failures.
package session

import (
	"time"
)

// State of the guard's current-session state machine.
type State string

const (
	StateLoggedOut      State = "logged_out"
	StateAuthenticating State = "authenticating"
	StateActive         State = "active"
	StateLocked         State = "locked"
	StateExpired        State = "expired"
)

// Session is an issued authentication session. Token and RefreshToken are
// returned to the caller exactly once; only their hashes are persisted.
type Session struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	WalletID     string    `json:"wallet_id"`
	DeviceID     string    `json:"device_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// LockoutState tracks consecutive failed authentication attempts for one
// wallet. Reset on the first success.
type LockoutState struct {
	FailedAttempts int       `json:"failed_attempts"`
	LockedUntil    time.Time `json:"locked_until"`
}

// Locked reports whether a lockout is currently in effect.
func (l *LockoutState) Locked(now time.Time) bool {
	return now.Before(l.LockedUntil)
}
