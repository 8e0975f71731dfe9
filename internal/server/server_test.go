package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvasiljev/orderchain/internal/auth"
	"github.com/mvasiljev/orderchain/internal/chain"
	"github.com/mvasiljev/orderchain/internal/config"
)

const (
	// Throwaway fixture key, controls no real funds.
	testOperatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testJWTSecret   = "server-test-secret"
	testCustomer    = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	testCourier     = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

// stubGateway simulates escrow contracts for router-level tests.
type stubGateway struct {
	mu        sync.Mutex
	contracts map[string]*chain.OrderState
	nextAddr  int
	pingErr   error
}

func newStubGateway() *stubGateway {
	return &stubGateway{contracts: make(map[string]*chain.OrderState)}
}

func (f *stubGateway) ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return chain.ErrInvalidAddress
	}
	return nil
}

func (f *stubGateway) AddressUsable(ctx context.Context, addr string) error {
	return f.ValidateAddress(addr)
}

func (f *stubGateway) Deploy(ctx context.Context, customer string, price *big.Int) (string, *chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextAddr++
	addr := fmt.Sprintf("0x%040x", f.nextAddr)
	f.contracts[addr] = &chain.OrderState{
		Customer: common.HexToAddress(customer),
		Price:    new(big.Int).Set(price),
	}
	return addr, &chain.TxResult{TxHash: "0xdeploy"}, nil
}

func (f *stubGateway) Invoice(ctx context.Context, contract, customer string) (*chain.PaymentTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.contracts[contract]
	if state.Paid {
		return nil, chain.ErrAlreadyPaid
	}
	return &chain.PaymentTx{From: customer, To: contract, Value: state.Price.String()}, nil
}

func (f *stubGateway) BindCourier(ctx context.Context, contract, courier string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.contracts[contract]
	state.Courier = common.HexToAddress(courier)
	state.CourierBound = true
	return &chain.TxResult{TxHash: "0xbind"}, nil
}

func (f *stubGateway) ConfirmDelivery(ctx context.Context, contract string) (*chain.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[contract].Delivered = true
	return &chain.TxResult{TxHash: "0xconfirm"}, nil
}

func (f *stubGateway) State(ctx context.Context, contract string) (*chain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.contracts[contract]
	return &cp, nil
}

func (f *stubGateway) Ping(ctx context.Context) error { return f.pingErr }
func (f *stubGateway) Close() error                   { return nil }

func (f *stubGateway) pay(contract string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[contract].Paid = true
}

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		RPCURL:            "http://localhost:8545",
		ChainID:           1337,
		OperatorKey:       testOperatorKey,
		SubmitTimeout:     time.Second,
		ConfirmTimeout:    time.Second,
		JWTSecret:         testJWTSecret,
		ReconcileInterval: time.Minute,
	}
}

func newTestServer(t *testing.T) (*Server, *stubGateway) {
	t.Helper()
	gw := newStubGateway()
	s, err := New(testConfig(), WithGateway(gw))
	require.NoError(t, err)
	return s, gw
}

func token(t *testing.T, email, role string) string {
	t.Helper()
	raw, err := auth.IssueToken(testJWTSecret, email, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + raw
}

func do(s *Server, method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s, gw := newTestServer(t)

	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rpc":"healthy"`)

	w = do(s, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run marks it so.
	w = do(s, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	gw.pingErr = chain.ErrRPCConnection
	w = do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "orderchain_")
}

func TestSecurityHeadersApplied(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRoleGroupsRequireAuth(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/customer/status", "/courier/orders_to_deliver", "/owner/product_statistics"} {
		w := do(s, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	// Role mismatch is rejected, not just missing tokens.
	w := do(s, http.MethodGet, "/owner/product_statistics", token(t, "alice@example.com", auth.RoleCustomer), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

// Full order lifecycle through the wired router: the owner loads the
// catalog, the customer orders and pays, the courier picks up, and the
// customer confirms delivery.
func TestOrderFlowEndToEnd(t *testing.T) {
	s, gw := newTestServer(t)

	// Owner uploads the catalog.
	var csvBuf bytes.Buffer
	mw := multipart.NewWriter(&csvBuf)
	fw, err := mw.CreateFormFile("file", "products.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("coffee,espresso beans,10.00\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/owner/update", &csvBuf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", token(t, "owner@example.com", auth.RoleOwner))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Customer places an order.
	customerToken := token(t, "alice@example.com", auth.RoleCustomer)
	w = do(s, http.MethodPost, "/customer/order", customerToken, map[string]any{
		"requests": []map[string]any{{"id": 1, "quantity": 2}},
		"address":  testCustomer,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	// Customer fetches the payment transaction.
	w = do(s, http.MethodPost, "/customer/generate_invoice", customerToken, map[string]any{
		"id": created.ID, "address": testCustomer,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var invoiced struct {
		Invoice struct {
			To string `json:"to"`
		} `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &invoiced))

	// The customer signs and submits the payment out of band.
	gw.pay(invoiced.Invoice.To)

	// Courier sees the order and picks it up.
	courierToken := token(t, "bob@example.com", auth.RoleCourier)
	w = do(s, http.MethodGet, "/courier/orders_to_deliver", courierToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), fmt.Sprintf(`"id":%d`, created.ID))

	w = do(s, http.MethodPost, "/courier/pick_up_order", courierToken, map[string]any{
		"id": created.ID, "address": testCourier,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Customer confirms delivery.
	w = do(s, http.MethodPost, "/customer/delivered", customerToken, map[string]any{
		"id": created.ID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The escrow released funds and the ledger is COMPLETE.
	state, err := gw.State(context.Background(), invoiced.Invoice.To)
	require.NoError(t, err)
	assert.True(t, state.Delivered)

	w = do(s, http.MethodGet, "/customer/status", customerToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"COMPLETE"`)
}

func TestUnknownRoute404(t *testing.T) {
	s, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
