package interfaces

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpErrorMatchesKindAndCause(t *testing.T) {
	err := NewOpError(ErrWalletProvisioningFailed, "write-key", "alice", ErrBackendUnavailable)
	assert.ErrorIs(t, err, ErrWalletProvisioningFailed)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.NotErrorIs(t, err, ErrWalletNotFound)
	assert.Equal(t, "wallet provisioning failed: write-key alice: storage backend unavailable", err.Error())

	wrapped := fmt.Errorf("authorize: %w", err)
	var opErr *OpError
	assert.True(t, errors.As(wrapped, &opErr))
	assert.Equal(t, "write-key", opErr.Op)

	bare := NewOpError(ErrSaleClosed, "mint", "0x1", nil)
	assert.Equal(t, "consent token sale closed: mint 0x1", bare.Error())
	assert.ErrorIs(t, bare, ErrSaleClosed)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"submission", NewOpError(ErrTransactionSubmissionFailed, "send", "", nil), true},
		{"storage", NewOpError(ErrStorageUnavailable, "read-address", "", nil), true},
		{"deploy", NewOpError(ErrTokenDeployFailed, "deploy", "", nil), true},
		{"preference read", NewOpError(ErrPreferenceReadFailed, "read-preference", "", ErrBackendUnavailable), true},
		{"signing", NewOpError(ErrSigningFailed, "sign", "", ErrBackendUnavailable), false},
		{"sale closed", NewOpError(ErrSaleClosed, "mint", "", nil), false},
		{"supply", NewOpError(ErrSupplyExhausted, "mint", "", nil), false},
		{"unauthenticated", ErrUnauthenticated, false},
		{"other", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
