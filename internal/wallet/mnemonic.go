// Package wallet implements HD wallet identity: mnemonic handling, key
// derivation, account discovery and the persisted wallet index.
package wallet

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"

	"github.com/emberwallet/ember/internal/walleterr"
)

// Supported mnemonic entropy sizes (12 and 24 words).
const (
	EntropyBits12Words = 128
	EntropyBits24Words = 256
)

// GenerateMnemonic creates a new BIP-39 mnemonic from the given entropy
// size. Only 128-bit (12 words) and 256-bit (24 words) are accepted.
func GenerateMnemonic(entropyBits int) (string, error) {
	if entropyBits != EntropyBits12Words && entropyBits != EntropyBits24Words {
		return "", walleterr.Newf(walleterr.CodeValidation, "entropy must be %d or %d bits, got %d",
			EntropyBits12Words, EntropyBits24Words, entropyBits)
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", walleterr.Entropy(err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks if a mnemonic is valid per BIP-39 (correct word
// count, valid words, valid checksum). Malformed input returns false,
// never an error.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}
