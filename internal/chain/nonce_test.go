package chain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceManager_ReserveMonotonic(t *testing.T) {
	m := newNonceManager()

	assert.Equal(t, uint64(5), m.reserve(5))
	// Node still reports 5 (tx in flight); local counter wins.
	assert.Equal(t, uint64(6), m.reserve(5))
	assert.Equal(t, uint64(7), m.reserve(5))
	// Node caught up past us; trust the higher value.
	assert.Equal(t, uint64(20), m.reserve(20))
}

func TestNonceManager_ResetTrustsNode(t *testing.T) {
	m := newNonceManager()

	m.reserve(5)
	m.reserve(5)
	m.reset()
	// After a conflict the node's view is authoritative again.
	assert.Equal(t, uint64(3), m.reserve(3))
}

func TestNonceManager_ReleaseReturnsReservation(t *testing.T) {
	m := newNonceManager()

	n := m.reserve(5)
	m.release(n)
	// The failed reservation never reached the node; hand out the same
	// nonce again instead of leaving a gap.
	assert.Equal(t, uint64(5), m.reserve(5))
}

func TestNonceManager_ReleaseIgnoresStaleNonce(t *testing.T) {
	m := newNonceManager()

	first := m.reserve(5)
	m.reserve(5)
	m.release(first)
	// A later reservation already moved the counter; releasing the
	// earlier nonce must not rewind past it.
	assert.Equal(t, uint64(7), m.reserve(5))
}

func TestNonceManager_AcquireRespectsContext(t *testing.T) {
	m := newNonceManager()

	unlock, err := m.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock2, err := m.acquire(context.Background())
	require.NoError(t, err)
	unlock2()
}
