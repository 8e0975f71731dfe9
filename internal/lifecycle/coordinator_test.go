package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasiljev/orderchain/internal/catalog"
	"github.com/mvasiljev/orderchain/internal/chain"
	"github.com/mvasiljev/orderchain/internal/order"
)

const (
	customerAddr = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	courierAddr  = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

// fakeGateway simulates escrow contracts in memory.
type fakeGateway struct {
	mu        sync.Mutex
	contracts map[string]*chain.OrderState
	unfunded  map[string]bool
	nextAddr  int

	deployErr  error
	bindErr    error
	confirmErr error
	stateErr   error

	bindCalls    int
	confirmCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		contracts: make(map[string]*chain.OrderState),
		unfunded:  make(map[string]bool),
	}
}

func (f *fakeGateway) ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return chain.ErrInvalidAddress
	}
	return nil
}

func (f *fakeGateway) AddressUsable(ctx context.Context, addr string) error {
	if err := f.ValidateAddress(addr); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unfunded[addr] {
		return chain.ErrUnfundedAddress
	}
	return nil
}

func (f *fakeGateway) Deploy(ctx context.Context, customer string, price *big.Int) (string, *chain.TxResult, error) {
	if err := f.AddressUsable(ctx, customer); err != nil {
		return "", nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deployErr != nil {
		return "", nil, f.deployErr
	}
	f.nextAddr++
	addr := fmt.Sprintf("0x%040x", f.nextAddr)
	f.contracts[addr] = &chain.OrderState{
		Customer: common.HexToAddress(customer),
		Price:    new(big.Int).Set(price),
	}
	return addr, &chain.TxResult{TxHash: fmt.Sprintf("0xdeploy%d", f.nextAddr)}, nil
}

func (f *fakeGateway) Invoice(ctx context.Context, contract, customer string) (*chain.PaymentTx, error) {
	if err := f.AddressUsable(ctx, customer); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.contracts[contract]
	if !ok {
		return nil, &chain.CallError{Op: "state", Err: chain.ErrRPCConnection}
	}
	if state.Paid {
		return nil, chain.ErrAlreadyPaid
	}
	return &chain.PaymentTx{
		From:  customer,
		To:    contract,
		Value: state.Price.String(),
	}, nil
}

func (f *fakeGateway) BindCourier(ctx context.Context, contract, courier string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bindCalls++
	if f.bindErr != nil {
		return nil, f.bindErr
	}
	state := f.contracts[contract]
	state.Courier = common.HexToAddress(courier)
	state.CourierBound = true
	return &chain.TxResult{TxHash: "0xbind"}, nil
}

func (f *fakeGateway) ConfirmDelivery(ctx context.Context, contract string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmCalls++
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.contracts[contract].Delivered = true
	return &chain.TxResult{TxHash: "0xconfirm"}, nil
}

func (f *fakeGateway) State(ctx context.Context, contract string) (*chain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	state, ok := f.contracts[contract]
	if !ok {
		return nil, &chain.CallError{Op: "state", Err: chain.ErrRPCConnection}
	}
	cp := *state
	return &cp, nil
}

// pay marks a contract paid, simulating the customer's signed payment.
func (f *fakeGateway) pay(contract string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[contract].Paid = true
}

type fixture struct {
	coordinator *Coordinator
	orders      *order.MemoryStore
	products    *catalog.MemoryStore
	gw          *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orders := order.NewMemoryStore()
	products := catalog.NewMemoryStore(orders)
	require.NoError(t, products.AddProducts(context.Background(), []*catalog.Product{
		{Name: "espresso beans", Price: "10.00", Categories: []string{"coffee"}},
		{Name: "filter papers", Price: "9.99", Categories: []string{"paper"}},
	}))
	gw := newFakeGateway()
	return &fixture{
		coordinator: NewCoordinator(orders, products, gw, slog.Default()),
		orders:      orders,
		products:    products,
		gw:          gw,
	}
}

func (fx *fixture) createOrder(t *testing.T) *order.Order {
	t.Helper()
	o, err := fx.coordinator.Create(context.Background(), "alice@example.com", customerAddr,
		[]LineRequest{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}})
	require.NoError(t, err)
	return o
}

func TestCreate(t *testing.T) {
	fx := newFixture(t)

	o := fx.createOrder(t)
	assert.NotZero(t, o.ID)
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, "29.99", o.Total)
	assert.NotEmpty(t, o.ContractAddr)

	state, err := fx.gw.State(context.Background(), o.ContractAddr)
	require.NoError(t, err)
	assert.Equal(t, "2999", state.Price.String(), "escrow price is the total in minor units")
	assert.False(t, state.Paid)
}

func TestCreate_Validation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	_, err := fx.coordinator.Create(ctx, "a@b.c", customerAddr, nil)
	assert.ErrorIs(t, err, order.ErrEmptyOrder)

	var itemErr *ItemError
	_, err = fx.coordinator.Create(ctx, "a@b.c", customerAddr, []LineRequest{{ProductID: 0, Quantity: 1}})
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 0, itemErr.Index)

	_, err = fx.coordinator.Create(ctx, "a@b.c", customerAddr,
		[]LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: -1}})
	require.ErrorAs(t, err, &itemErr)
	assert.Equal(t, 1, itemErr.Index)

	_, err = fx.coordinator.Create(ctx, "a@b.c", customerAddr, []LineRequest{{ProductID: 99, Quantity: 1}})
	require.ErrorAs(t, err, &itemErr)
	assert.Contains(t, itemErr.Error(), "invalid product")

	_, err = fx.coordinator.Create(ctx, "a@b.c", "nope", []LineRequest{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)

	fx.gw.unfunded[customerAddr] = true
	_, err = fx.coordinator.Create(ctx, "a@b.c", customerAddr, []LineRequest{{ProductID: 1, Quantity: 1}})
	assert.ErrorIs(t, err, chain.ErrUnfundedAddress)
}

func TestCreate_DeployFailureKeepsLedgerRow(t *testing.T) {
	fx := newFixture(t)
	fx.gw.deployErr = chain.ErrRPCConnection

	o, err := fx.coordinator.Create(context.Background(), "alice@example.com", customerAddr,
		[]LineRequest{{ProductID: 1, Quantity: 1}})
	require.Error(t, err)

	var deployErr *DeployError
	require.ErrorAs(t, err, &deployErr)
	require.NotNil(t, o)
	assert.Equal(t, o.ID, deployErr.OrderID)

	stored, err := fx.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCreated, stored.Status)
	assert.Empty(t, stored.ContractAddr)
}

func TestInvoice(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)

	tx, err := fx.coordinator.Invoice(ctx, o.ID, "alice@example.com", customerAddr)
	require.NoError(t, err)
	assert.Equal(t, o.ContractAddr, tx.To)
	assert.Equal(t, "2999", tx.Value)

	// The paid flag is read fresh: pay out of band, invoice again.
	fx.gw.pay(o.ContractAddr)
	_, err = fx.coordinator.Invoice(ctx, o.ID, "alice@example.com", customerAddr)
	assert.ErrorIs(t, err, chain.ErrAlreadyPaid)

	_, err = fx.coordinator.Invoice(ctx, 9999, "alice@example.com", customerAddr)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestInvoice_NotCustomer(t *testing.T) {
	fx := newFixture(t)
	o := fx.createOrder(t)

	_, err := fx.coordinator.Invoice(context.Background(), o.ID, "mallory@example.com", customerAddr)
	assert.ErrorIs(t, err, ErrNotCustomer)
}

func TestInvoice_NoContract(t *testing.T) {
	fx := newFixture(t)
	fx.gw.deployErr = chain.ErrRPCConnection
	o, _ := fx.coordinator.Create(context.Background(), "a@b.c", customerAddr,
		[]LineRequest{{ProductID: 1, Quantity: 1}})

	_, err := fx.coordinator.Invoice(context.Background(), o.ID, "a@b.c", customerAddr)
	assert.ErrorIs(t, err, ErrNoContract)
}

func TestPickup(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)

	// Unpaid orders cannot be picked up.
	err := fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr)
	assert.ErrorIs(t, err, ErrNotPaid)

	fx.gw.pay(o.ContractAddr)
	require.NoError(t, fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr))

	stored, err := fx.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, stored.Status)
	assert.Equal(t, "bob@example.com", stored.CourierEmail)
	assert.Equal(t, courierAddr, stored.CourierAddr)

	state, _ := fx.gw.State(ctx, o.ContractAddr)
	assert.True(t, state.CourierBound)

	// Second pickup loses on status.
	err = fx.coordinator.Pickup(ctx, o.ID, "carl@example.com", courierAddr)
	assert.ErrorIs(t, err, order.ErrStatusConflict)
}

func TestPickup_CourierMustBeFunded(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)
	fx.gw.pay(o.ContractAddr)

	fx.gw.unfunded[courierAddr] = true
	err := fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr)
	assert.ErrorIs(t, err, chain.ErrUnfundedAddress)

	err = fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", "garbage")
	assert.ErrorIs(t, err, chain.ErrInvalidAddress)
}

func TestPickup_BindSkippedWhenAlreadyBound(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)
	fx.gw.pay(o.ContractAddr)

	// Chain already has a courier (earlier attempt died before the
	// ledger write); pickup must not re-bind.
	_, err := fx.gw.BindCourier(ctx, o.ContractAddr, courierAddr)
	require.NoError(t, err)
	callsBefore := fx.gw.bindCalls

	require.NoError(t, fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr))
	assert.Equal(t, callsBefore, fx.gw.bindCalls)
}

func TestDeliver(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)
	fx.gw.pay(o.ContractAddr)
	require.NoError(t, fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr))

	require.NoError(t, fx.coordinator.Deliver(ctx, o.ID, "alice@example.com"))

	stored, err := fx.orders.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusComplete, stored.Status)

	state, _ := fx.gw.State(ctx, o.ContractAddr)
	assert.True(t, state.Delivered)

	// The terminal transition releases the per-order lock entry.
	_, held := fx.coordinator.locks.Load(o.ID)
	assert.False(t, held)

	// Completed orders cannot be delivered twice.
	assert.ErrorIs(t, fx.coordinator.Deliver(ctx, o.ID, "alice@example.com"), ErrNotPending)
}

func TestDeliver_Rejections(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)

	// Not yet picked up.
	assert.ErrorIs(t, fx.coordinator.Deliver(ctx, o.ID, "alice@example.com"), ErrNotPending)

	fx.gw.pay(o.ContractAddr)
	require.NoError(t, fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr))

	// Only the owning customer may confirm.
	assert.ErrorIs(t, fx.coordinator.Deliver(ctx, o.ID, "mallory@example.com"), ErrNotCustomer)

	assert.ErrorIs(t, fx.coordinator.Deliver(ctx, 9999, "alice@example.com"), order.ErrOrderNotFound)
}

func TestDeliver_ChainFirst(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)
	fx.gw.pay(o.ContractAddr)
	require.NoError(t, fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr))

	// Chain confirmation fails: the ledger must not move.
	fx.gw.confirmErr = &chain.CallError{Op: "confirm_delivery", Err: chain.ErrReverted}
	err := fx.coordinator.Deliver(ctx, o.ID, "alice@example.com")
	assert.ErrorIs(t, err, chain.ErrReverted)

	stored, _ := fx.orders.Get(ctx, o.ID)
	assert.Equal(t, order.StatusPending, stored.Status)

	// Retry after the chain recovers succeeds.
	fx.gw.confirmErr = nil
	require.NoError(t, fx.coordinator.Deliver(ctx, o.ID, "alice@example.com"))
	stored, _ = fx.orders.Get(ctx, o.ID)
	assert.Equal(t, order.StatusComplete, stored.Status)
}

// Two couriers racing for the same order: exactly one wins.
func TestPickup_ConcurrentSingleWinner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	o := fx.createOrder(t)
	fx.gw.pay(o.ContractAddr)

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			email := fmt.Sprintf("courier%d@example.com", i)
			results <- fx.coordinator.Pickup(ctx, o.ID, email, courierAddr)
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, order.ErrStatusConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingNotifier) OrderEvent(orderID int64, status, contract string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, status)
}

func TestLifecycle_NotifierEvents(t *testing.T) {
	fx := newFixture(t)
	notifier := &recordingNotifier{}
	fx.coordinator.WithNotifier(notifier)
	ctx := context.Background()

	o := fx.createOrder(t)
	fx.gw.pay(o.ContractAddr)
	require.NoError(t, fx.coordinator.Pickup(ctx, o.ID, "bob@example.com", courierAddr))
	require.NoError(t, fx.coordinator.Deliver(ctx, o.ID, "alice@example.com"))

	assert.Equal(t, []string{"CREATED", "PENDING", "COMPLETE"}, notifier.events)
}
