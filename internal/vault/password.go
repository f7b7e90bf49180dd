package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"

	"github.com/emberwallet/ember/internal/walleterr"
)

// Password hashing is independent of the vault KDF: it lets the session
// layer verify a password without decrypting the vault.
const (
	hashSaltSize = 16
	hashKeyLen   = 32
)

// hashParams are the Argon2id parameters for password hashes. Lighter than
// the vault KDF since a hash check happens on every authentication attempt.
var hashParams = KDFParams{
	Memory:      19 * 1024, // 19 MiB
	Iterations:  2,
	Parallelism: 1,
}

// HashPassword derives an encoded Argon2id hash of the password, in the
// standard $argon2id$ encoded form.
func HashPassword(password []byte) (string, error) {
	salt := make([]byte, hashSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", walleterr.Entropy(err)
	}

	sum := argon2.IDKey(password, salt, hashParams.Iterations, hashParams.Memory, hashParams.Parallelism, hashKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hashParams.Memory,
		hashParams.Iterations,
		hashParams.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// VerifyPassword checks a password against an encoded hash in constant time.
// Malformed hashes verify as false, never as an error the caller could
// confuse with a wrong password.
func VerifyPassword(password []byte, encoded string) bool {
	var version int
	var memory, iterations uint32
	var parallelism uint8

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey(password, salt, iterations, memory, parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// Password policy requirements.
const MinPasswordLength = 8

// PolicyViolation lists which password rules failed.
type PolicyViolation struct {
	Rules []string
}

func (v *PolicyViolation) Error() string {
	return "password policy violation: " + strings.Join(v.Rules, ", ")
}

// ValidatePasswordPolicy enforces minimum length and character classes.
// Violations fail fast with a structured error naming every failed rule.
func ValidatePasswordPolicy(password string) error {
	var rules []string

	if len(password) < MinPasswordLength {
		rules = append(rules, fmt.Sprintf("at least %d characters", MinPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper {
		rules = append(rules, "an uppercase letter")
	}
	if !hasLower {
		rules = append(rules, "a lowercase letter")
	}
	if !hasDigit {
		rules = append(rules, "a digit")
	}

	if len(rules) > 0 {
		return walleterr.Wrap(walleterr.CodeValidation, "weak password", &PolicyViolation{Rules: rules})
	}
	return nil
}
