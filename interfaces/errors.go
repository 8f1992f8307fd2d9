package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned when no identity could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrPreferenceReadFailed  = errors.New("preference read failed")
	ErrPreferenceWriteFailed = errors.New("preference write failed")

	// ErrWalletProvisioningFailed is fatal; no partial wallet is left referenced.
	ErrWalletProvisioningFailed = errors.New("wallet provisioning failed")
	ErrWalletNotFound           = errors.New("wallet not found")

	// ErrStorageUnavailable is returned when existence could not be determined.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrTokenDeployFailed is retryable only once no successful deployment exists.
	ErrTokenDeployFailed = errors.New("token deploy failed")
	ErrTokenNotFound     = errors.New("consent token not found")

	// ErrTransactionSubmissionFailed is retryable with a fresh nonce.
	ErrTransactionSubmissionFailed = errors.New("transaction submission failed")

	// ErrSigningFailed is fatal to the request.
	ErrSigningFailed = errors.New("transaction signing failed")

	// ErrInvalidAmount is returned for a transfer of a negative or missing amount.
	ErrInvalidAmount = errors.New("invalid transfer amount")

	ErrSaleClosed      = errors.New("consent token sale closed")
	ErrSupplyExhausted = errors.New("consent token supply exhausted")

	// ErrAccessDenied is a policy decision, never a fault.
	ErrAccessDenied = errors.New("access denied")

	ErrGrantFailed = errors.New("access grant failed")
)

// OpError is an adapter or engine fault with the operation and entity that failed.
type OpError struct {
	Kind   error  // one of the sentinel errors above
	Op     string // e.g. "read-address", "deploy"
	Entity string // user, scope or contract the operation concerned
	Err    error  // underlying cause, may be nil
}

// NewOpError wraps err with a kind, operation and entity.
func NewOpError(kind error, op, entity string, err error) *OpError {
	return &OpError{Kind: kind, Op: op, Entity: entity, Err: err}
}

// Error returns the formatted error message.
func (e *OpError) Error() string {
	msg := fmt.Sprintf("%v: %s %s", e.Kind, e.Op, e.Entity)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether an operation failing with err may be retried as is.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrSigningFailed),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrSaleClosed),
		errors.Is(err, ErrSupplyExhausted):
		return false
	case errors.Is(err, ErrTransactionSubmissionFailed),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrTokenDeployFailed),
		errors.Is(err, ErrPreferenceReadFailed):
		return true
	}
	return false
}
