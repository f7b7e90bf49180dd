package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Account is a derived wallet account. Private key material is never held
// here: it is re-derived from the seed on demand during an authenticated
// session.
type Account struct {
	ID        string         `json:"id"`
	Label     string         `json:"label"`
	Index     uint32         `json:"index"`
	Path      string         `json:"path"`
	PublicKey string         `json:"public_key"` // compressed, hex
	Address   common.Address `json:"address"`
	// Balance is the last cached balance in wei (decimal string, empty
	// when never fetched). Display data only, refreshed via the balance
	// oracle.
	Balance   string    `json:"balance,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DerivationPath renders the BIP-44 path for an address index.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/44'/60'/0'/0/%d", index)
}

// DeriveAccount derives the account at the given index from a seed.
// Deterministic: the same seed and index always yield the same address.
func DeriveAccount(seed []byte, index uint32) (*Account, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	key, err := master.DeriveAddressKey(index)
	if err != nil {
		return nil, err
	}
	addr, err := key.Address()
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:        uuid.NewString(),
		Label:     fmt.Sprintf("Account %d", index+1),
		Index:     index,
		Path:      DerivationPath(index),
		PublicKey: hex.EncodeToString(key.PublicKeyBytes()),
		Address:   addr,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// SigningKey re-derives the private key for an account index. The caller
// must not retain the key beyond the signing operation.
func SigningKey(seed []byte, index uint32) (*ecdsa.PrivateKey, error) {
	master, err := NewMasterKey(seed)
	if err != nil {
		return nil, err
	}
	key, err := master.DeriveAddressKey(index)
	if err != nil {
		return nil, err
	}
	return key.ECDSA()
}
