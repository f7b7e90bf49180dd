package wallet

import (
	"time"

	"github.com/google/uuid"
)

// Type distinguishes how a wallet's key material originated.
type Type string

const (
	TypeHD       Type = "hd"       // generated in-app
	TypeImported Type = "imported" // restored from an existing mnemonic
)

// SecuritySettings are the per-wallet authentication knobs.
type SecuritySettings struct {
	SessionTimeout    time.Duration `json:"session_timeout"`
	MaxFailedAttempts int           `json:"max_failed_attempts"`
	LockoutDuration   time.Duration `json:"lockout_duration"`
}

// DefaultSecuritySettings returns the settings applied to new wallets.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		SessionTimeout:    15 * time.Minute,
		MaxFailedAttempts: 5,
		LockoutDuration:   5 * time.Minute,
	}
}

// NetworkSettings are per-wallet network preferences. The default chain is
// only a documented default: every exposed operation still takes an
// explicit chain id.
type NetworkSettings struct {
	DefaultChainID uint64 `json:"default_chain_id"`
}

// Wallet groups the accounts derived from one seed. The seed itself lives
// only inside the encrypted vault; Wallet carries metadata.
type Wallet struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	Type           Type             `json:"type"`
	Accounts       []*Account       `json:"accounts"`
	Security       SecuritySettings `json:"security"`
	Network        NetworkSettings  `json:"network"`
	CreatedAt      time.Time        `json:"created_at"`
	LastAccessedAt time.Time        `json:"last_accessed_at"`
}

// New creates wallet metadata with defaults applied.
func New(name string, typ Type, defaultChainID uint64) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:             uuid.NewString(),
		Name:           name,
		Type:           typ,
		Security:       DefaultSecuritySettings(),
		Network:        NetworkSettings{DefaultChainID: defaultChainID},
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// AccountByIndex returns the account with the given derivation index, or nil.
func (w *Wallet) AccountByIndex(index uint32) *Account {
	for _, a := range w.Accounts {
		if a.Index == index {
			return a
		}
	}
	return nil
}

// Summary is the wallet-index entry persisted for listing without loading
// full account metadata.
type Summary struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Type           Type      `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Summary returns the index entry for this wallet.
func (w *Wallet) Summary() Summary {
	return Summary{
		ID:             w.ID,
		Name:           w.Name,
		Type:           w.Type,
		CreatedAt:      w.CreatedAt,
		LastAccessedAt: w.LastAccessedAt,
	}
}
