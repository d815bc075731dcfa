package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(CodeAlreadyRegistered, "identity already registered")
	assert.Equal(t, CodeAlreadyRegistered, err.Code())
	assert.Equal(t, "already_registered: identity already registered", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "ledger submit failed")

	require.True(t, errors.Is(err, cause))
	assert.Equal(t, CodeUnavailable, CodeOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHasCode_WalksWrappedChain(t *testing.T) {
	inner := New(CodeAlreadyConsumed, "credential already consumed")
	outer := fmt.Errorf("redeem: %w", inner)

	assert.True(t, HasCode(outer, CodeAlreadyConsumed))
	assert.False(t, HasCode(outer, CodeExpired))
	assert.True(t, Is(outer, CodeAlreadyConsumed))
}

func TestCodeOf_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain error")))
}

func TestIsConflict(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeConflict, true},
		{CodeAlreadyRegistered, true},
		{CodeAlreadyVerified, true},
		{CodeAlreadyIssued, true},
		{CodeAlreadyConsumed, true},
		{CodeUnavailable, false},
		{CodeExpired, false},
		{CodeIntegrity, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsConflict(New(tt.code, "x")))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(CodeUnavailable, "ledger down")))
	assert.True(t, IsRetryable(New(CodeTimeout, "confirm timed out")))
	assert.False(t, IsRetryable(New(CodeAlreadyConsumed, "used")))
	assert.False(t, IsRetryable(New(CodeIntegrity, "orphaned record")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
