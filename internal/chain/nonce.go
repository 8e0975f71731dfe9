package chain

import (
	"context"
	"sync"
)

// nonceManager serializes nonce assignment for the operator account.
// Concurrent submissions must not reuse a pending nonce, so the lock is
// held across fetch, sign, and submit. Waiting for the transaction to
// mine happens outside the lock.
//
// The lock is a buffered channel rather than sync.Mutex so acquisition
// can respect context cancellation.
type nonceManager struct {
	ch chan struct{}

	mu   sync.Mutex
	next uint64 // Next nonce to hand out; only trusted when >0 submissions happened
	seen bool
}

func newNonceManager() *nonceManager {
	m := &nonceManager{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{} // Start unlocked.
	return m
}

// acquire takes the submission lock, respecting context cancellation.
// On success, returns an unlock function. The caller MUST call it.
func (m *nonceManager) acquire(ctx context.Context) (func(), error) {
	select {
	case <-m.ch:
		return func() { m.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// reserve returns the nonce to use given the node's pending count.
// The local counter can run ahead of the node when submissions are
// in flight, so take the max of both views.
func (m *nonceManager) reserve(pending uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := pending
	if m.seen && m.next > n {
		n = m.next
	}
	m.next = n + 1
	m.seen = true
	return n
}

// release returns an unused reservation after a failed submission.
// Valid only while the submission lock is still held; the counter
// cannot have moved past nonce+1.
func (m *nonceManager) release(nonce uint64) {
	m.mu.Lock()
	if m.next == nonce+1 {
		m.next = nonce
	}
	m.mu.Unlock()
}

// reset drops the cached counter so the next reservation trusts the
// node again. Called after a nonce conflict.
func (m *nonceManager) reset() {
	m.mu.Lock()
	m.seen = false
	m.mu.Unlock()
}
