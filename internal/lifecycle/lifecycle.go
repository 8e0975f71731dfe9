// Package lifecycle coordinates order state across the relational
// ledger and the per-order escrow contracts.
//
// Flow:
//  1. Customer places an order → ledger row CREATED, escrow deployed
//  2. Customer pays the invoiced transaction directly on chain
//  3. Courier picks up → courier bound on chain, ledger PENDING
//  4. Customer confirms → delivery confirmed on chain, ledger COMPLETE
//
// State-changing steps run chain-first: the contract is updated before
// the ledger, and a background sweep repairs any ledger row the chain
// has moved past.
package lifecycle

import (
	"errors"
	"fmt"
)

var (
	ErrNotPaid     = errors.New("lifecycle: order not paid")
	ErrNotPending  = errors.New("lifecycle: delivery not in progress")
	ErrNotCustomer = errors.New("lifecycle: order belongs to another customer")
	ErrNoContract  = errors.New("lifecycle: order has no escrow contract")
)

// ItemError reports an invalid order line by its position in the request.
type ItemError struct {
	Index  int
	Reason string
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s for request number %d", e.Reason, e.Index)
}

// DeployError is returned when the ledger row was created but escrow
// deployment failed. The order stays CREATED without a contract; the
// customer places a fresh order to retry.
type DeployError struct {
	OrderID int64
	Err     error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("lifecycle: escrow deploy failed for order %d: %v", e.OrderID, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }

// LineRequest is one requested order line.
type LineRequest struct {
	ProductID int64 `json:"id"`
	Quantity  int64 `json:"quantity"`
}
