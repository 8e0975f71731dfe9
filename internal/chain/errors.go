package chain

import (
	"errors"
	"fmt"
	"strings"
)

// Typed errors for programmatic handling. Callers use errors.Is to map
// these to HTTP responses or retry decisions.
var (
	ErrInvalidPrivateKey = errors.New("chain: invalid private key")
	ErrInvalidAddress    = errors.New("chain: invalid address")
	ErrUnfundedAddress   = errors.New("chain: address has no funds")
	ErrInvalidPrice      = errors.New("chain: invalid price")
	ErrAlreadyPaid       = errors.New("chain: order already paid")
	ErrNotPaid           = errors.New("chain: order not paid")
	ErrReverted          = errors.New("chain: transaction reverted")
	ErrNonceConflict     = errors.New("chain: nonce conflict")
	ErrTimeout           = errors.New("chain: operation timed out")
	ErrRPCConnection     = errors.New("chain: RPC connection failed")
	ErrCircuitOpen       = errors.New("chain: circuit breaker open")
)

// CallError wraps chain call failures with context
type CallError struct {
	Op     string // Operation that failed (deploy, pay, bind, confirm, state)
	TxHash string // Transaction hash if available
	Err    error  // Underlying error
}

func (e *CallError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx: %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// classifySendError maps raw RPC send errors to typed errors. A nonce
// clash means another submission won the race and a retry with a fresh
// nonce can succeed; a revert will never succeed on retry.
func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "nonce too low"),
		strings.Contains(msg, "replacement transaction underpriced"),
		strings.Contains(msg, "already known"):
		return fmt.Errorf("%w: %v", ErrNonceConflict, err)
	case strings.Contains(msg, "execution reverted"),
		strings.Contains(msg, "always failing transaction"):
		return fmt.Errorf("%w: %v", ErrReverted, err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"):
		return fmt.Errorf("%w: %v", ErrRPCConnection, err)
	default:
		return err
	}
}

// Retryable reports whether an operation that failed with err may
// succeed if attempted again. Reverts and validation failures are
// permanent; transport and nonce races are transient.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrNonceConflict),
		errors.Is(err, ErrRPCConnection),
		errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}
