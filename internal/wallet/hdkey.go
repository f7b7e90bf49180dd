package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"

	"github.com/emberwallet/ember/internal/walleterr"
)

// BIP-44 derivation path constants for the EVM chain family.
// Full path: m/44'/60'/0'/0/index
const (
	// PurposeBIP44 is the BIP-44 purpose field (hardened).
	PurposeBIP44 = bip32.FirstHardenedChild + 44

	// CoinTypeEther is the registered coin type for Ethereum-family
	// chains (hardened).
	CoinTypeEther = bip32.FirstHardenedChild + 60

	// DefaultAccount is the BIP-44 account field (hardened).
	DefaultAccount = bip32.FirstHardenedChild + 0

	// ChangeExternal is the external (receiving) chain.
	ChangeExternal = 0
)

// HDKey represents a hierarchical deterministic key (BIP-32).
type HDKey struct {
	key *bip32.Key
}

// NewMasterKey creates a master HD key from a 64-byte seed.
func NewMasterKey(seed []byte) (*HDKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", SeedSize, len(seed))
	}
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	return &HDKey{key: master}, nil
}

// DeriveChild derives a child key at the given index.
// For hardened derivation, add bip32.FirstHardenedChild to the index.
func (k *HDKey) DeriveChild(index uint32) (*HDKey, error) {
	child, err := k.key.NewChildKey(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	return &HDKey{key: child}, nil
}

// DerivePath derives a key along a sequence of indices.
func (k *HDKey) DerivePath(indices ...uint32) (*HDKey, error) {
	current := k
	for _, idx := range indices {
		child, err := current.DeriveChild(idx)
		if err != nil {
			return nil, err
		}
		current = child
	}
	return current, nil
}

// DeriveAddressKey derives the key at m/44'/60'/0'/0/index. The index must
// be below the hardened boundary.
func (k *HDKey) DeriveAddressKey(index uint32) (*HDKey, error) {
	if index >= bip32.FirstHardenedChild {
		return nil, walleterr.DerivationRange(uint64(index))
	}
	return k.DerivePath(
		PurposeBIP44,
		CoinTypeEther,
		DefaultAccount,
		ChangeExternal,
		index,
	)
}

// PrivateKeyBytes returns the raw 32-byte private key.
// Returns nil if this is a public-only key.
func (k *HDKey) PrivateKeyBytes() []byte {
	if !k.key.IsPrivate {
		return nil
	}
	// bip32 Key.Key is 33 bytes with a leading 0x00 for private keys.
	raw := k.key.Key
	if len(raw) == 33 && raw[0] == 0 {
		return raw[1:]
	}
	return raw
}

// PublicKeyBytes returns the compressed 33-byte public key.
func (k *HDKey) PublicKeyBytes() []byte {
	pub := k.key.PublicKey()
	return pub.Key
}

// ECDSA returns the secp256k1 private key as an *ecdsa.PrivateKey suitable
// for transaction signing. Returns an error for public-only keys.
func (k *HDKey) ECDSA() (*ecdsa.PrivateKey, error) {
	priv := k.PrivateKeyBytes()
	if priv == nil {
		return nil, fmt.Errorf("cannot sign with a public-only key")
	}
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("convert private key: %w", err)
	}
	return key, nil
}

// Address derives the EVM address for this key: keccak256(pubkey)[12:].
func (k *HDKey) Address() (common.Address, error) {
	key, err := k.ECDSA()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// IsPrivate returns true if this key contains a private key.
func (k *HDKey) IsPrivate() bool {
	return k.key.IsPrivate
}

// Neuter returns a public-key-only copy (for watch-only wallets).
func (k *HDKey) Neuter() *HDKey {
	return &HDKey{key: k.key.PublicKey()}
}
