package wallet

import (
	"github.com/tyler-smith/go-bip39"

	"github.com/emberwallet/ember/internal/walleterr"
)

// SeedSize is the length of a derived seed in bytes (512 bits).
const SeedSize = 64

// SeedFromMnemonic derives a 512-bit seed from a mnemonic and optional
// passphrase using PBKDF2-SHA512 as specified in BIP-39. The seed is used
// only transiently to derive keys and must never be persisted in clear form.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	if !ValidateMnemonic(mnemonic) {
		return nil, walleterr.Validation("invalid mnemonic")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.CodeValidation, "derive seed", err)
	}
	return seed, nil
}

// ZeroSeed overwrites seed material in place. Call it as soon as the seed
// is no longer needed.
func ZeroSeed(seed []byte) {
	for i := range seed {
		seed[i] = 0
	}
}
