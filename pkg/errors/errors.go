// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Order lifecycle errors
var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidTransition  = errors.New("invalid order state transition")
	ErrInvalidOutcome     = errors.New("invalid payment outcome")
	ErrExpiredOrder       = errors.New("order expired")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderAlreadyExists = errors.New("order already exists")
)

// Gateway errors
var (
	ErrUnknownGateway     = errors.New("unknown payment gateway")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrUnverifiedCallback = errors.New("unverified gateway callback")
	ErrMalformedCallback  = errors.New("malformed gateway callback")
)

// Ledger errors
var (
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrIdempotencyKeyReused   = errors.New("idempotency key reused with different payload")
	ErrStorageConflict        = errors.New("storage conflict")
	ErrDuplicateRequest       = errors.New("duplicate request in progress")
)

// Referral errors
var (
	ErrSelfReferral   = errors.New("user cannot refer themselves")
	ErrReferralExists = errors.New("referral already recorded for user")
	ErrReferralCycle  = errors.New("referral would create a cycle")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable reports whether the failure is transient and the whole
// operation may be attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict) || errors.Is(err, ErrGatewayUnavailable)
}

// IsNotFound reports whether err denotes a missing order, wallet or transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
