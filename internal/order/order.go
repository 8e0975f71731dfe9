// Package order is the relational ledger of customer orders.
//
// Flow:
//  1. Customer places an order → CREATED, escrow contract deployed
//  2. Courier picks the order up → PENDING
//  3. Owner confirms delivery on chain → COMPLETE
//
// The chain is the source of truth for payment and delivery; ledger
// status only ever advances, never regresses.
package order

import (
	"context"
	"errors"
	"time"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrStatusConflict   = errors.New("order status conflict")
	ErrContractConflict = errors.New("order contract already set")
	ErrEmptyOrder       = errors.New("order has no items")
)

// Status represents the ledger state of an order.
type Status string

const (
	StatusCreated  Status = "CREATED"  // Placed, escrow deployed, awaiting payment/pickup
	StatusPending  Status = "PENDING"  // Courier bound, delivery in progress
	StatusComplete Status = "COMPLETE" // Delivered, escrow released
)

// rank orders statuses for monotonic advancement checks.
func rank(s Status) int {
	switch s {
	case StatusCreated:
		return 0
	case StatusPending:
		return 1
	case StatusComplete:
		return 2
	default:
		return -1
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return rank(s) >= 0 }

// CanAdvance reports whether moving from one status to another is a
// forward transition. Equal or backward moves are rejected.
func CanAdvance(from, to Status) bool {
	return from.Valid() && to.Valid() && rank(to) > rank(from)
}

// Item is a single order line.
type Item struct {
	ProductID int64  `json:"productId"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unitPrice"` // Decimal string, e.g. "12.50"
}

// Order is a ledger record tied to a per-order escrow contract.
type Order struct {
	ID            int64     `json:"id"`
	CustomerEmail string    `json:"customerEmail"`
	CustomerAddr  string    `json:"customerAddr"`
	CourierEmail  string    `json:"courierEmail,omitempty"`
	CourierAddr   string    `json:"courierAddr,omitempty"`
	ContractAddr  string    `json:"contractAddr,omitempty"`
	Total         string    `json:"total"` // Decimal string
	Status        Status    `json:"status"`
	Items         []Item    `json:"items"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// IsTerminal returns true if the order is in a final state.
func (o *Order) IsTerminal() bool { return o.Status == StatusComplete }

// Store persists order data.
type Store interface {
	// Create inserts the order and its items, assigning o.ID.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id int64) (*Order, error)
	GetByContract(ctx context.Context, contractAddr string) (*Order, error)
	ListByCustomer(ctx context.Context, customerEmail string) ([]*Order, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Order, error)

	// UpdateStatus advances status from one value to another atomically.
	// Returns ErrStatusConflict when the stored status no longer matches
	// from, or when the move is not a forward transition.
	UpdateStatus(ctx context.Context, id int64, from, to Status) error

	// SetContract records the deployed escrow address for an order.
	// An order binds to exactly one contract; a second call returns
	// ErrContractConflict.
	SetContract(ctx context.Context, id int64, contractAddr string) error

	// SetCourier records the courier identity on pickup. An empty
	// courierEmail keeps the stored value; chain repairs only know
	// the address.
	SetCourier(ctx context.Context, id int64, courierEmail, courierAddr string) error

	// ListUnfinished returns non-complete orders that have a contract,
	// oldest first. The reconciliation sweep feeds on these.
	ListUnfinished(ctx context.Context, limit int) ([]*Order, error)
}
