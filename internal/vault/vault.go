// Package vault implements encrypted at-rest storage for wallet secrets.
// It is the only component permitted to materialize a decrypted seed.
package vault

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/emberwallet/ember/internal/walleterr"
)

// AlgorithmTag identifies the only supported vault scheme.
const AlgorithmTag = "argon2id-xchacha20poly1305"

// SaltSize is the length of the random KDF salt in bytes.
const SaltSize = 32

// KDFParams holds Argon2id parameters. They are stored alongside the
// ciphertext — salt and work factors are not secret.
type KDFParams struct {
	Memory      uint32 `json:"memory"` // in KiB
	Iterations  uint32 `json:"iterations"`
	Parallelism uint8  `json:"parallelism"`
}

// DefaultParams returns the production Argon2id parameters. 64 MiB x 3
// iterations exceeds the work factor of a 100k-iteration PBKDF2 stretch.
func DefaultParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

// EncryptedVault is the only persisted form of a wallet's seed and
// serialized metadata. Decryption with a wrong password fails cleanly via
// the AEAD tag check; it never returns garbage.
type EncryptedVault struct {
	Algorithm  string    `json:"algorithm"`
	Salt       []byte    `json:"salt"`
	Params     KDFParams `json:"params"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

// deriveKey uses Argon2id to derive a 32-byte encryption key from password
// and salt.
func deriveKey(password, salt []byte, params KDFParams) []byte {
	return argon2.IDKey(
		password,
		salt,
		params.Iterations,
		params.Memory,
		params.Parallelism,
		chacha20poly1305.KeySize,
	)
}

// Encrypt encrypts plaintext with a password-derived key using Argon2id +
// XChaCha20-Poly1305 and a fresh random salt and nonce.
func Encrypt(plaintext, password []byte, params KDFParams) (*EncryptedVault, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, walleterr.Entropy(err)
	}

	key := deriveKey(password, salt, params)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, walleterr.Entropy(err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	return &EncryptedVault{
		Algorithm:  AlgorithmTag,
		Salt:       salt,
		Params:     params,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt decrypts a vault with the given password. A wrong password or
// tampered ciphertext fails the Poly1305 tag check, which is constant-time
// with respect to the plaintext — there is no byte-by-byte comparison to
// leak through.
func Decrypt(v *EncryptedVault, password []byte) ([]byte, error) {
	if v == nil {
		return nil, walleterr.Integrity("nil vault", nil)
	}
	if v.Algorithm != AlgorithmTag {
		return nil, walleterr.Integrity(fmt.Sprintf("unsupported vault algorithm %q", v.Algorithm), nil)
	}
	if len(v.Salt) != SaltSize {
		return nil, walleterr.Integrity("malformed vault salt", nil)
	}
	if len(v.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, walleterr.Integrity("malformed vault nonce", nil)
	}
	if len(v.Ciphertext) < chacha20poly1305.Overhead {
		return nil, walleterr.Integrity("vault ciphertext too short", nil)
	}

	key := deriveKey(password, v.Salt, v.Params)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, v.Nonce, v.Ciphertext, nil)
	if err != nil {
		return nil, walleterr.Authentication("vault decryption failed: wrong password or corrupted data")
	}
	return plaintext, nil
}

// zero overwrites a byte slice.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
