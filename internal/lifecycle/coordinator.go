package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"

	"github.com/mvasiljev/orderchain/internal/catalog"
	"github.com/mvasiljev/orderchain/internal/chain"
	"github.com/mvasiljev/orderchain/internal/metrics"
	"github.com/mvasiljev/orderchain/internal/money"
	"github.com/mvasiljev/orderchain/internal/order"
	"github.com/mvasiljev/orderchain/internal/traces"
)

// ChainGateway is the escrow contract surface the coordinator needs.
// Injected so tests can run against a fake chain.
type ChainGateway interface {
	Deploy(ctx context.Context, customer string, price *big.Int) (string, *chain.TxResult, error)
	Invoice(ctx context.Context, contract, customer string) (*chain.PaymentTx, error)
	BindCourier(ctx context.Context, contract, courier string) (*chain.TxResult, error)
	ConfirmDelivery(ctx context.Context, contract string) (*chain.TxResult, error)
	State(ctx context.Context, contract string) (*chain.OrderState, error)
	ValidateAddress(addr string) error
	AddressUsable(ctx context.Context, addr string) error
}

// ProductReader resolves order lines against the catalog.
type ProductReader interface {
	Get(ctx context.Context, id int64) (*catalog.Product, error)
}

// Notifier receives order lifecycle events for realtime fan-out.
type Notifier interface {
	OrderEvent(orderID int64, status, contract string)
}

// Coordinator implements order lifecycle business logic.
type Coordinator struct {
	orders   order.Store
	products ProductReader
	gw       ChainGateway
	notifier Notifier
	logger   *slog.Logger
	locks    sync.Map // per-order ID locks to prevent race conditions
}

// NewCoordinator creates a new lifecycle coordinator.
func NewCoordinator(orders order.Store, products ProductReader, gw ChainGateway, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		orders:   orders,
		products: products,
		gw:       gw,
		logger:   logger,
	}
}

// WithNotifier adds a realtime event sink.
func (c *Coordinator) WithNotifier(n Notifier) *Coordinator {
	c.notifier = n
	return c
}

// orderLock returns a mutex for the given order ID.
// This prevents concurrent transitions (e.g. pickup + deliver racing).
func (c *Coordinator) orderLock(id int64) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (c *Coordinator) notify(o *order.Order) {
	if c.notifier != nil {
		c.notifier.OrderEvent(o.ID, string(o.Status), o.ContractAddr)
	}
}

// Create validates the requested lines, writes the ledger row, and
// deploys a fresh escrow contract priced at the order total.
//
// When deployment fails the returned order is non-nil alongside a
// DeployError: the row exists in CREATED without a contract.
func (c *Coordinator) Create(ctx context.Context, customerEmail, customerAddr string, lines []LineRequest) (*order.Order, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.Create", traces.CustomerAddr(customerAddr))
	defer span.End()

	if len(lines) == 0 {
		return nil, order.ErrEmptyOrder
	}
	for i, line := range lines {
		if line.ProductID <= 0 {
			return nil, &ItemError{Index: i, Reason: "invalid product id"}
		}
		if line.Quantity <= 0 {
			return nil, &ItemError{Index: i, Reason: "invalid product quantity"}
		}
	}

	if err := c.gw.AddressUsable(ctx, customerAddr); err != nil {
		return nil, err
	}

	total := big.NewInt(0)
	items := make([]order.Item, 0, len(lines))
	for i, line := range lines {
		product, err := c.products.Get(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return nil, &ItemError{Index: i, Reason: "invalid product"}
			}
			return nil, err
		}
		lineTotal, ok := money.LineTotal(product.Price, line.Quantity)
		if !ok {
			return nil, &ItemError{Index: i, Reason: "invalid product price"}
		}
		total.Add(total, lineTotal)
		items = append(items, order.Item{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
	}

	o := &order.Order{
		CustomerEmail: customerEmail,
		CustomerAddr:  customerAddr,
		Total:         money.FromMinor(total),
		Status:        order.StatusCreated,
		Items:         items,
	}
	if err := c.orders.Create(ctx, o); err != nil {
		return nil, err
	}
	metrics.OrdersTotal.WithLabelValues(string(order.StatusCreated)).Inc()
	span.SetAttributes(traces.OrderID(o.ID), traces.Price(o.Total))

	contract, _, err := c.gw.Deploy(ctx, customerAddr, total)
	if err != nil {
		c.logger.Error("escrow deploy failed",
			"orderId", o.ID, "customer", customerAddr, "error", err)
		return o, &DeployError{OrderID: o.ID, Err: err}
	}
	if err := c.orders.SetContract(ctx, o.ID, contract); err != nil {
		// The contract exists on chain; surface the ledger failure but
		// keep the address on the returned order for the caller.
		o.ContractAddr = contract
		return o, err
	}
	o.ContractAddr = contract

	c.logger.Info("order created",
		"orderId", o.ID, "customer", customerEmail, "total", o.Total, "contract", contract)
	c.notify(o)
	return o, nil
}

// Invoice builds the unsigned payment transaction for an order. Only
// the customer who placed the order may request it. The paid flag is
// read fresh from the contract; invoicing a paid order fails with
// chain.ErrAlreadyPaid no matter what the ledger says.
func (c *Coordinator) Invoice(ctx context.Context, orderID int64, customerEmail, customerAddr string) (*chain.PaymentTx, error) {
	ctx, span := traces.StartSpan(ctx, "lifecycle.Invoice", traces.OrderID(orderID))
	defer span.End()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerEmail != customerEmail {
		return nil, ErrNotCustomer
	}
	if o.ContractAddr == "" {
		return nil, ErrNoContract
	}
	return c.gw.Invoice(ctx, o.ContractAddr, customerAddr)
}

// Pickup binds the courier to the order's escrow and advances the
// ledger to PENDING. The order must be paid on chain, and the courier
// account must be funded. The contract is updated first; if the ledger
// write then fails, the reconciliation sweep repairs it.
func (c *Coordinator) Pickup(ctx context.Context, orderID int64, courierEmail, courierAddr string) error {
	ctx, span := traces.StartSpan(ctx, "lifecycle.Pickup",
		traces.OrderID(orderID), traces.CourierAddr(courierAddr))
	defer span.End()

	mu := c.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusCreated {
		return order.ErrStatusConflict
	}
	if o.ContractAddr == "" {
		return ErrNoContract
	}
	if err := c.gw.AddressUsable(ctx, courierAddr); err != nil {
		return err
	}

	state, err := c.gw.State(ctx, o.ContractAddr)
	if err != nil {
		return err
	}
	if !state.Paid {
		return ErrNotPaid
	}

	if !state.CourierBound {
		if _, err := c.gw.BindCourier(ctx, o.ContractAddr, courierAddr); err != nil {
			return err
		}
	}

	if err := c.orders.SetCourier(ctx, orderID, courierEmail, courierAddr); err != nil {
		return err
	}
	if err := c.orders.UpdateStatus(ctx, orderID, order.StatusCreated, order.StatusPending); err != nil {
		return err
	}
	metrics.OrdersTotal.WithLabelValues(string(order.StatusPending)).Inc()

	c.logger.Info("order picked up",
		"orderId", orderID, "courier", courierEmail, "contract", o.ContractAddr)
	o.Status = order.StatusPending
	c.notify(o)
	return nil
}

// Deliver confirms delivery on chain and completes the order. Only the
// customer who placed the order may confirm, and only from PENDING.
// Chain confirmation failures are returned without touching the ledger.
func (c *Coordinator) Deliver(ctx context.Context, orderID int64, customerEmail string) error {
	ctx, span := traces.StartSpan(ctx, "lifecycle.Deliver", traces.OrderID(orderID))
	defer span.End()

	mu := c.orderLock(orderID)
	mu.Lock()
	defer mu.Unlock()

	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.CustomerEmail != customerEmail {
		return ErrNotCustomer
	}
	if o.Status != order.StatusPending {
		return ErrNotPending
	}
	if o.ContractAddr == "" {
		return ErrNoContract
	}

	if _, err := c.gw.ConfirmDelivery(ctx, o.ContractAddr); err != nil {
		return err
	}

	if err := c.orders.UpdateStatus(ctx, orderID, order.StatusPending, order.StatusComplete); err != nil {
		// The chain already moved; the sweep will complete the row.
		c.logger.Warn("ledger completion failed after chain confirm",
			"orderId", orderID, "error", err)
		return err
	}
	metrics.OrdersTotal.WithLabelValues(string(order.StatusComplete)).Inc()

	// COMPLETE is terminal; drop the per-order lock so the map does
	// not grow for the life of the process.
	c.locks.Delete(orderID)

	c.logger.Info("order delivered", "orderId", orderID, "contract", o.ContractAddr)
	o.Status = order.StatusComplete
	c.notify(o)
	return nil
}

// Orders returns all orders placed by a customer, newest first.
func (c *Coordinator) Orders(ctx context.Context, customerEmail string) ([]*order.Order, error) {
	return c.orders.ListByCustomer(ctx, customerEmail)
}

// OrdersToDeliver returns orders awaiting pickup.
func (c *Coordinator) OrdersToDeliver(ctx context.Context) ([]*order.Order, error) {
	return c.orders.ListByStatus(ctx, order.StatusCreated, 100)
}

// Get returns one order by ID.
func (c *Coordinator) Get(ctx context.Context, orderID int64) (*order.Order, error) {
	return c.orders.Get(ctx, orderID)
}
