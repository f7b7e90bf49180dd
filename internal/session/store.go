package session

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/blake3"

	"github.com/emberwallet/ember/internal/storage"
)

// Store key layout:
//
//	s/<blake3(token)>        -> stored session JSON
//	r/<blake3(refreshToken)> -> blake3(token) (refresh index)
//	l/<walletID>             -> LockoutState JSON
var (
	prefixSession = []byte("s/")
	prefixRefresh = []byte("r/")
	prefixLockout = []byte("l/")
)

// storedSession is the persisted form of a Session. Tokens are never
// stored; lookups go through their blake3 hashes.
type storedSession struct {
	WalletID     string    `json:"wallet_id"`
	DeviceID     string    `json:"device_id"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LastActivity time.Time `json:"last_activity"`
	RefreshHash  string    `json:"refresh_hash"`
}

// tokenHash returns the hex blake3 digest of a token.
func tokenHash(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func sessionKey(hash string) []byte { return append(append([]byte{}, prefixSession...), hash...) }
func refreshKey(hash string) []byte { return append(append([]byte{}, prefixRefresh...), hash...) }
func lockoutKey(id string) []byte   { return append(append([]byte{}, prefixLockout...), id...) }

// store persists sessions and lockout state.
type store struct {
	db storage.DB
}

func (s *store) putSession(sess *Session) error {
	rec := storedSession{
		WalletID:     sess.WalletID,
		DeviceID:     sess.DeviceID,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		LastActivity: sess.LastActivity,
		RefreshHash:  tokenHash(sess.RefreshToken),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	th := tokenHash(sess.Token)
	if err := s.db.Put(sessionKey(th), data); err != nil {
		return err
	}
	return s.db.Put(refreshKey(rec.RefreshHash), []byte(th))
}

// getSession loads a stored session by raw token. The returned Session has
// empty Token/RefreshToken fields; callers already hold the token.
func (s *store) getSession(token string) (*Session, error) {
	return s.getSessionByHash(tokenHash(token))
}

func (s *store) getSessionByHash(hash string) (*Session, error) {
	data, err := s.db.Get(sessionKey(hash))
	if err != nil {
		return nil, err
	}
	var rec storedSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &Session{
		WalletID:     rec.WalletID,
		DeviceID:     rec.DeviceID,
		CreatedAt:    rec.CreatedAt,
		ExpiresAt:    rec.ExpiresAt,
		LastActivity: rec.LastActivity,
	}, nil
}

// resolveRefresh maps a refresh token to its session token hash.
func (s *store) resolveRefresh(refreshToken string) (string, error) {
	th, err := s.db.Get(refreshKey(tokenHash(refreshToken)))
	if err != nil {
		return "", err
	}
	return string(th), nil
}

// touchSession updates last-activity for a session by token.
func (s *store) touchSession(token string, at time.Time) error {
	th := tokenHash(token)
	data, err := s.db.Get(sessionKey(th))
	if err != nil {
		return err
	}
	var rec storedSession
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parse session: %w", err)
	}
	rec.LastActivity = at
	updated, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.db.Put(sessionKey(th), updated)
}

// deleteSessionByHash removes a session and its refresh index entry.
func (s *store) deleteSessionByHash(hash string) error {
	data, err := s.db.Get(sessionKey(hash))
	if err == nil {
		var rec storedSession
		if json.Unmarshal(data, &rec) == nil && rec.RefreshHash != "" {
			_ = s.db.Delete(refreshKey(rec.RefreshHash))
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.db.Delete(sessionKey(hash))
}

// deleteWalletSessions removes every stored session owned by a wallet.
// Used on logout-all and password change.
func (s *store) deleteWalletSessions(walletID string) error {
	var hashes []string
	err := s.db.ForEach(prefixSession, func(key, value []byte) error {
		var rec storedSession
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil // skip corrupt entries, sweep cleans them up
		}
		if rec.WalletID == walletID {
			hashes = append(hashes, string(key[len(prefixSession):]))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, h := range hashes {
		if err := s.deleteSessionByHash(h); err != nil {
			return err
		}
	}
	return nil
}

// sweepExpired removes all sessions past expiry. Returns how many were
// removed.
func (s *store) sweepExpired(now time.Time) (int, error) {
	var hashes []string
	err := s.db.ForEach(prefixSession, func(key, value []byte) error {
		var rec storedSession
		if err := json.Unmarshal(value, &rec); err != nil {
			hashes = append(hashes, string(key[len(prefixSession):]))
			return nil
		}
		if !now.Before(rec.ExpiresAt) {
			hashes = append(hashes, string(key[len(prefixSession):]))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, h := range hashes {
		if err := s.deleteSessionByHash(h); err != nil {
			return 0, err
		}
	}
	return len(hashes), nil
}

// lockout loads the lockout state for a wallet, zero-valued when absent.
func (s *store) lockout(walletID string) (*LockoutState, error) {
	data, err := s.db.Get(lockoutKey(walletID))
	if errors.Is(err, storage.ErrNotFound) {
		return &LockoutState{}, nil
	}
	if err != nil {
		return nil, err
	}
	var ls LockoutState
	if err := json.Unmarshal(data, &ls); err != nil {
		return nil, fmt.Errorf("parse lockout state: %w", err)
	}
	return &ls, nil
}

// putLockout persists lockout state.
func (s *store) putLockout(walletID string, ls *LockoutState) error {
	data, err := json.Marshal(ls)
	if err != nil {
		return fmt.Errorf("marshal lockout state: %w", err)
	}
	return s.db.Put(lockoutKey(walletID), data)
}

// clearLockout resets lockout state after a successful authentication.
func (s *store) clearLockout(walletID string) error {
	return s.db.Delete(lockoutKey(walletID))
}
