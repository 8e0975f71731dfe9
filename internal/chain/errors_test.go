package chain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"nonce too low", "nonce too low", ErrNonceConflict},
		{"already known", "already known", ErrNonceConflict},
		{"underpriced replacement", "replacement transaction underpriced", ErrNonceConflict},
		{"revert", "execution reverted: only owner", ErrReverted},
		{"refused", "dial tcp: connection refused", ErrRPCConnection},
		{"reset", "read: connection reset by peer", ErrRPCConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySendError(errors.New(tt.raw))
			assert.ErrorIs(t, got, tt.want)
		})
	}

	t.Run("nil passes through", func(t *testing.T) {
		assert.NoError(t, classifySendError(nil))
	})

	t.Run("unknown passes through", func(t *testing.T) {
		raw := errors.New("something else")
		assert.Equal(t, raw, classifySendError(raw))
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrNonceConflict))
	assert.True(t, Retryable(ErrRPCConnection))
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(&CallError{Op: "deploy", Err: ErrNonceConflict}))

	assert.False(t, Retryable(ErrReverted))
	assert.False(t, Retryable(ErrAlreadyPaid))
	assert.False(t, Retryable(ErrInvalidAddress))
	assert.False(t, Retryable(nil))
}

func TestCallError_Format(t *testing.T) {
	err := &CallError{Op: "deploy", Err: ErrReverted}
	assert.Contains(t, err.Error(), "deploy")
	assert.ErrorIs(t, err, ErrReverted)

	withTx := &CallError{Op: "confirm_delivery", TxHash: "0xabc", Err: ErrTimeout}
	assert.Contains(t, withTx.Error(), "0xabc")
}
