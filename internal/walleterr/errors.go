// Package walleterr defines the coded error taxonomy shared across the
// wallet core. Every user-visible failure carries a machine-readable code
// plus a human-readable message.
package walleterr

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies an error class.
type Code string

const (
	CodeValidation        Code = "validation"
	CodeEntropy           Code = "entropy"
	CodeDerivationRange   Code = "derivation_range"
	CodeAuthentication    Code = "authentication"
	CodeAccountLocked     Code = "account_locked"
	CodeSessionExpired    Code = "session_expired"
	CodeNetwork           Code = "network"
	CodeNoEndpoint        Code = "no_endpoint"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeBroadcast         Code = "broadcast"
	CodeTxFailed          Code = "tx_failed"
	CodeIntegrity         Code = "integrity"
)

// Error is a coded wallet error.
type Error struct {
	Code    Code
	Message string
	// RetryAfter is set for account_locked errors: how long until the
	// caller may retry authentication.
	RetryAfter time.Duration
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two coded errors by code, so sentinel-style comparisons work:
// errors.Is(err, walleterr.Authentication("")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error wrapping a cause.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Validation reports malformed caller input (mnemonic, address, amount).
func Validation(msg string) *Error { return New(CodeValidation, msg) }

// Entropy reports an unavailable secure random source.
func Entropy(err error) *Error {
	return Wrap(CodeEntropy, "secure random source unavailable", err)
}

// DerivationRange reports an out-of-range derivation index.
func DerivationRange(index uint64) *Error {
	return Newf(CodeDerivationRange, "derivation index %d out of range", index)
}

// Authentication reports a wrong password or invalid session.
func Authentication(msg string) *Error { return New(CodeAuthentication, msg) }

// AccountLocked reports a lockout in effect; retryAfter tells the caller
// when authentication may be attempted again.
func AccountLocked(retryAfter time.Duration) *Error {
	return &Error{
		Code:       CodeAccountLocked,
		Message:    fmt.Sprintf("account locked, retry in %s", retryAfter.Round(time.Second)),
		RetryAfter: retryAfter,
	}
}

// SessionExpired reports an expired or unknown session/refresh token.
func SessionExpired(msg string) *Error { return New(CodeSessionExpired, msg) }

// Network reports a transport failure after internal retries.
func Network(msg string, err error) *Error { return Wrap(CodeNetwork, msg, err) }

// NoEndpoint reports that every configured endpoint for a chain is down.
func NoEndpoint(chainID uint64) *Error {
	return Newf(CodeNoEndpoint, "no endpoint available for chain %d", chainID)
}

// InsufficientFunds reports a spend exceeding the available balance.
func InsufficientFunds(msg string) *Error { return New(CodeInsufficientFunds, msg) }

// Broadcast reports a failed transaction submission.
func Broadcast(msg string, err error) *Error { return Wrap(CodeBroadcast, msg, err) }

// TxFailed reports a transaction that was included but reverted.
func TxFailed(msg string) *Error { return New(CodeTxFailed, msg) }

// Integrity reports vault corruption or tampering. Fatal for that vault.
func Integrity(msg string, err error) *Error { return Wrap(CodeIntegrity, msg, err) }

// CodeOf extracts the code from an error chain, or "" if the chain holds no
// coded error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RetryAfterOf extracts the retry-after hint from an error chain, or 0.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
