package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberwallet/ember/internal/log"
	"github.com/emberwallet/ember/internal/storage"
	"github.com/emberwallet/ember/internal/vault"
	"github.com/emberwallet/ember/internal/wallet"
	"github.com/emberwallet/ember/internal/walleterr"
)

// Factor is an additional authentication gate (MFA code, biometric
// confirmation) composed with the password check. Every registered factor
// must report true before a session becomes active.
type Factor func(ctx context.Context, walletID string) (bool, error)

// Guard authenticates users against the wallet store and owns all session
// and lockout state. One Guard serves the whole process; at most one
// session is "current" at a time, though multiple issued sessions may live
// in storage until individually invalidated.
type Guard struct {
	wallets *wallet.Store
	store   store
	factors []Factor

	// now is injectable for lockout and expiry tests.
	now func() time.Time

	mu      sync.Mutex
	state   State
	current *Session
}

// NewGuard creates a session guard persisting to db.
func NewGuard(wallets *wallet.Store, db storage.DB, factors ...Factor) *Guard {
	return &Guard{
		wallets: wallets,
		store:   store{db: db},
		factors: factors,
		now:     time.Now,
		state:   StateLoggedOut,
	}
}

// State returns the guard's current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Current returns the current session, or nil when logged out.
func (g *Guard) Current() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Authenticate verifies the password (and all extra factors) for a wallet
// and issues a session. While a lockout is in effect the password is not
// checked at all, so attempt timing cannot be used to probe credentials
// during the lockout window.
func (g *Guard) Authenticate(ctx context.Context, walletID string, password []byte, deviceID string) (*Session, error) {
	g.mu.Lock()
	g.state = StateAuthenticating
	g.mu.Unlock()

	w, err := g.wallets.Get(walletID)
	if err != nil {
		g.setState(StateLoggedOut)
		return nil, fmt.Errorf("load wallet: %w", err)
	}
	sec := w.Security

	ls, err := g.store.lockout(walletID)
	if err != nil {
		g.setState(StateLoggedOut)
		return nil, err
	}
	now := g.now()
	if ls.Locked(now) {
		g.setState(StateLocked)
		return nil, walleterr.AccountLocked(ls.LockedUntil.Sub(now))
	}

	hash, err := g.wallets.PasswordHash(walletID)
	if err != nil {
		g.setState(StateLoggedOut)
		return nil, err
	}

	if !vault.VerifyPassword(password, hash) {
		return nil, g.recordFailure(walletID, ls, sec)
	}

	for _, factor := range g.factors {
		ok, err := factor(ctx, walletID)
		if err != nil {
			g.setState(StateLoggedOut)
			return nil, fmt.Errorf("authentication factor: %w", err)
		}
		if !ok {
			return nil, g.recordFailure(walletID, ls, sec)
		}
	}

	if err := g.store.clearLockout(walletID); err != nil {
		g.setState(StateLoggedOut)
		return nil, err
	}

	sess := g.newSession(walletID, deviceID, sec.SessionTimeout)
	if err := g.store.putSession(sess); err != nil {
		g.setState(StateLoggedOut)
		return nil, err
	}

	g.mu.Lock()
	g.state = StateActive
	g.current = sess
	g.mu.Unlock()

	log.Session.Info().
		Str("wallet_id", walletID).
		Str("device_id", deviceID).
		Time("expires_at", sess.ExpiresAt).
		Msg("session created")

	return sess, nil
}

// recordFailure increments the failure counter and transitions to Locked
// once the threshold is reached.
func (g *Guard) recordFailure(walletID string, ls *LockoutState, sec wallet.SecuritySettings) error {
	ls.FailedAttempts++
	locked := ls.FailedAttempts >= sec.MaxFailedAttempts
	if locked {
		ls.LockedUntil = g.now().Add(sec.LockoutDuration)
	}
	if err := g.store.putLockout(walletID, ls); err != nil {
		g.setState(StateLoggedOut)
		return err
	}

	log.Session.Warn().
		Str("wallet_id", walletID).
		Int("failed_attempts", ls.FailedAttempts).
		Bool("locked", locked).
		Msg("authentication failed")

	if locked {
		g.setState(StateLocked)
		return walleterr.AccountLocked(sec.LockoutDuration)
	}
	g.setState(StateLoggedOut)
	return walleterr.Authentication("invalid password")
}

// Validate checks a session token. Valid sessions get their last-activity
// refreshed; expired sessions are deleted and reported as expired.
func (g *Guard) Validate(token string) (*Session, error) {
	sess, err := g.store.getSession(token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, walleterr.SessionExpired("unknown session token")
	}
	if err != nil {
		return nil, err
	}

	now := g.now()
	if sess.Expired(now) {
		_ = g.store.deleteSessionByHash(tokenHash(token))
		g.expireCurrent(token)
		return nil, walleterr.SessionExpired("session expired")
	}

	if err := g.store.touchSession(token, now); err != nil {
		return nil, err
	}
	sess.LastActivity = now
	sess.Token = token
	return sess, nil
}

// Refresh rotates a session: the old session is invalidated and a new one
// issued. Unknown refresh tokens fail with a session-expired error, and a
// refresh token whose session has already expired cannot resurrect it —
// the caller must authenticate again.
func (g *Guard) Refresh(refreshToken string) (*Session, error) {
	th, err := g.store.resolveRefresh(refreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, walleterr.SessionExpired("unknown refresh token")
	}
	if err != nil {
		return nil, err
	}

	old, err := g.store.getSessionByHash(th)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, walleterr.SessionExpired("session already invalidated")
	}
	if err != nil {
		return nil, err
	}

	if old.Expired(g.now()) {
		_ = g.store.deleteSessionByHash(th)
		return nil, walleterr.SessionExpired("session expired")
	}

	if err := g.store.deleteSessionByHash(th); err != nil {
		return nil, err
	}

	w, err := g.wallets.Get(old.WalletID)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	sess := g.newSession(old.WalletID, old.DeviceID, w.Security.SessionTimeout)
	if err := g.store.putSession(sess); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.current != nil && g.current.WalletID == old.WalletID {
		g.current = sess
		g.state = StateActive
	}
	g.mu.Unlock()

	log.Session.Debug().Str("wallet_id", sess.WalletID).Msg("session refreshed")
	return sess, nil
}

// Logout invalidates the current session. Idempotent: logging out while
// logged out is a no-op.
func (g *Guard) Logout() error {
	g.mu.Lock()
	current := g.current
	g.current = nil
	g.state = StateLoggedOut
	g.mu.Unlock()

	if current == nil {
		return nil
	}
	if err := g.store.deleteSessionByHash(tokenHash(current.Token)); err != nil {
		return err
	}
	log.Session.Info().Str("wallet_id", current.WalletID).Msg("logged out")
	return nil
}

// InvalidateWallet removes every issued session for a wallet. Called on
// password change and wallet deletion.
func (g *Guard) InvalidateWallet(walletID string) error {
	g.mu.Lock()
	if g.current != nil && g.current.WalletID == walletID {
		g.current = nil
		g.state = StateLoggedOut
	}
	g.mu.Unlock()
	return g.store.deleteWalletSessions(walletID)
}

// Sweep removes expired sessions from storage. Run it periodically; expiry
// is also checked lazily on every Validate.
func (g *Guard) Sweep() (int, error) {
	n, err := g.store.sweepExpired(g.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Session.Debug().Int("removed", n).Msg("swept expired sessions")
	}
	return n, nil
}

// Peek reports whether a token still maps to a live, unexpired session,
// without touching its activity timestamps.
func (g *Guard) Peek(token string) bool {
	sess, err := g.store.getSession(token)
	if err != nil {
		return false
	}
	return !sess.Expired(g.now())
}

// newSession builds a session with fresh random tokens.
func (g *Guard) newSession(walletID, deviceID string, timeout time.Duration) *Session {
	now := g.now()
	return &Session{
		Token:        uuid.NewString(),
		RefreshToken: uuid.NewString(),
		WalletID:     walletID,
		DeviceID:     deviceID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(timeout),
		LastActivity: now,
	}
}

func (g *Guard) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// expireCurrent flips state to Expired when the expired token was the
// current session's.
func (g *Guard) expireCurrent(token string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil && g.current.Token == token {
		g.current = nil
		g.state = StateExpired
	}
}
