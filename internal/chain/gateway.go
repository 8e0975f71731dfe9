// Package chain handles all blockchain interactions for per-order escrow contracts.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mvasiljev/orderchain/internal/circuitbreaker"
	"github.com/mvasiljev/orderchain/internal/metrics"
	"github.com/mvasiljev/orderchain/internal/retry"
)

const (
	// DeployGasLimit for escrow contract creation
	DeployGasLimit = uint64(1_000_000)

	// PayGasLimit for the customer payment transaction
	PayGasLimit = uint64(200_000)

	// DefaultGasLimit fallback when estimation fails
	DefaultGasLimit = uint64(300_000)

	// ConfirmationPollInterval between receipt checks
	ConfirmationPollInterval = 2 * time.Second

	// submitAttempts bounds retries on nonce conflicts
	submitAttempts = 3

	// submitRetryDelay is the base backoff between submit attempts
	submitRetryDelay = 100 * time.Millisecond
)

// EthClient abstracts go-ethereum client for testing
type EthClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// OrderState mirrors the escrow contract's getOrderState tuple.
type OrderState struct {
	Owner        common.Address
	Customer     common.Address
	Courier      common.Address
	Price        *big.Int
	Paid         bool
	Delivered    bool
	CourierBound bool
}

// PaymentTx is an unsigned payment transaction returned to the customer.
// The service never holds customer keys; the customer signs and submits
// this transaction themselves.
type PaymentTx struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Value    string `json:"value"` // Wei, decimal string
	Gas      uint64 `json:"gas"`
	GasPrice string `json:"gasPrice"`
	Nonce    uint64 `json:"nonce"`
	Data     string `json:"data"` // 0x-prefixed calldata
	ChainID  int64  `json:"chainId"`
}

// TxResult contains details of a mined transaction.
type TxResult struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	Nonce       uint64
}

// Config for creating a new Gateway
type Config struct {
	RPCURL         string
	OperatorKey    string // Hex string, 0x prefix optional
	ChainID        int64
	Artifact       *Artifact
	SubmitTimeout  time.Duration
	ConfirmTimeout time.Duration
}

// Option configures the gateway
type Option func(*Gateway)

// WithClient sets a custom Ethereum client (useful for testing)
func WithClient(client EthClient) Option {
	return func(g *Gateway) { g.client = client }
}

// WithBreaker sets a custom circuit breaker
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(g *Gateway) { g.breaker = b }
}

// WithLogger sets the gateway logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// Gateway executes escrow contract operations as the store operator.
// All state-changing calls are signed with the operator key; payments
// are returned unsigned for the customer to sign.
type Gateway struct {
	client         EthClient
	operatorKey    *ecdsa.PrivateKey
	operator       common.Address
	chainID        *big.Int
	artifact       *Artifact
	nonces         *nonceManager
	breaker        *circuitbreaker.Breaker
	logger         *slog.Logger
	rpcURL         string
	submitTimeout  time.Duration
	confirmTimeout time.Duration
}

// New creates a new Gateway instance
func New(cfg Config, opts ...Option) (*Gateway, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	operatorKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.OperatorKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	publicKey, ok := operatorKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: failed to derive public key", ErrInvalidPrivateKey)
	}

	g := &Gateway{
		operatorKey:    operatorKey,
		operator:       crypto.PubkeyToAddress(*publicKey),
		chainID:        big.NewInt(cfg.ChainID),
		artifact:       cfg.Artifact,
		nonces:         newNonceManager(),
		rpcURL:         cfg.RPCURL,
		submitTimeout:  cfg.SubmitTimeout,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         slog.Default(),
	}
	if g.submitTimeout <= 0 {
		g.submitTimeout = 15 * time.Second
	}
	if g.confirmTimeout <= 0 {
		g.confirmTimeout = 60 * time.Second
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.breaker == nil {
		g.breaker = circuitbreaker.New(5, 30*time.Second)
	}

	// Connect to RPC if no client provided
	if g.client == nil {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRPCConnection, err)
		}
		g.client = client
	}

	return g, nil
}

func validateConfig(cfg Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("%w: RPC URL required", ErrRPCConnection)
	}
	key := strings.TrimPrefix(cfg.OperatorKey, "0x")
	if len(key) != 64 {
		return fmt.Errorf("%w: must be 64 hex characters", ErrInvalidPrivateKey)
	}
	if cfg.ChainID == 0 {
		return errors.New("chain: chain ID required")
	}
	if cfg.Artifact == nil {
		return errors.New("chain: contract artifact required")
	}
	return nil
}

// Operator returns the operator account address.
func (g *Gateway) Operator() string {
	return g.operator.Hex()
}

// Ping verifies RPC connectivity by querying the operator balance.
func (g *Gateway) Ping(ctx context.Context) error {
	if _, err := g.client.BalanceAt(ctx, g.operator, nil); err != nil {
		g.breaker.RecordFailure(g.rpcURL)
		return fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	g.breaker.RecordSuccess(g.rpcURL)
	return nil
}

// ValidateAddress checks address syntax only.
func (g *Gateway) ValidateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

// AddressUsable checks that addr is well-formed and that the account
// holds a positive balance. Payment flows require a funded account.
func (g *Gateway) AddressUsable(ctx context.Context, addr string) error {
	if err := g.ValidateAddress(addr); err != nil {
		return err
	}
	balance, err := g.client.BalanceAt(ctx, common.HexToAddress(addr), nil)
	if err != nil {
		g.breaker.RecordFailure(g.rpcURL)
		return fmt.Errorf("%w: %v", ErrRPCConnection, err)
	}
	g.breaker.RecordSuccess(g.rpcURL)
	if balance.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrUnfundedAddress, addr)
	}
	return nil
}

// Deploy creates a fresh escrow contract for an order. The customer
// must be a funded account; price is in wei. Blocks until the creation
// transaction is mined and returns the contract address.
func (g *Gateway) Deploy(ctx context.Context, customer string, price *big.Int) (string, *TxResult, error) {
	if err := g.AddressUsable(ctx, customer); err != nil {
		return "", nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return "", nil, fmt.Errorf("%w: price must be positive", ErrInvalidPrice)
	}

	ctorArgs, err := g.artifact.ABI.Pack("", g.operator, common.HexToAddress(customer), price)
	if err != nil {
		return "", nil, &CallError{Op: "deploy", Err: err}
	}
	data := append(append([]byte{}, g.artifact.Bytecode...), ctorArgs...)

	tx, err := g.submitWithRetry(ctx, "deploy", nil, big.NewInt(0), DeployGasLimit, data)
	if err != nil {
		return "", nil, err
	}

	receipt, err := g.waitMined(ctx, "deploy", tx.Hash())
	if err != nil {
		return "", nil, err
	}

	addr := receipt.ContractAddress.Hex()
	g.logger.Info("escrow contract deployed",
		"contract", addr,
		"customer", customer,
		"price", price.String(),
		"tx", tx.Hash().Hex())

	return addr, &TxResult{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Nonce:       tx.Nonce(),
	}, nil
}

// Invoice builds the unsigned payment transaction for the customer.
// The paid flag is read fresh from the contract on every call; invoicing
// an already-paid order returns ErrAlreadyPaid.
func (g *Gateway) Invoice(ctx context.Context, contract, customer string) (*PaymentTx, error) {
	if err := g.AddressUsable(ctx, customer); err != nil {
		return nil, err
	}
	if err := g.ValidateAddress(contract); err != nil {
		return nil, err
	}

	state, err := g.State(ctx, contract)
	if err != nil {
		return nil, err
	}
	if state.Paid {
		return nil, ErrAlreadyPaid
	}

	data, err := g.artifact.ABI.Pack("payOrder")
	if err != nil {
		return nil, &CallError{Op: "invoice", Err: err}
	}

	customerAddr := common.HexToAddress(customer)
	nonce, err := g.client.PendingNonceAt(ctx, customerAddr)
	if err != nil {
		g.breaker.RecordFailure(g.rpcURL)
		return nil, &CallError{Op: "invoice", Err: classifySendError(err)}
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		g.breaker.RecordFailure(g.rpcURL)
		return nil, &CallError{Op: "invoice", Err: classifySendError(err)}
	}
	g.breaker.RecordSuccess(g.rpcURL)

	return &PaymentTx{
		From:     customerAddr.Hex(),
		To:       common.HexToAddress(contract).Hex(),
		Value:    state.Price.String(),
		Gas:      PayGasLimit,
		GasPrice: gasPrice.String(),
		Nonce:    nonce,
		Data:     hexutil.Encode(data),
		ChainID:  g.chainID.Int64(),
	}, nil
}

// BindCourier records the courier address on the contract. The courier
// needs no balance; only syntax is checked.
func (g *Gateway) BindCourier(ctx context.Context, contract, courier string) (*TxResult, error) {
	if err := g.ValidateAddress(courier); err != nil {
		return nil, err
	}
	return g.invoke(ctx, "bind_courier", contract, "bindCourier", common.HexToAddress(courier))
}

// ConfirmDelivery marks the order delivered, releasing escrowed funds
// to the owner and the courier's share.
func (g *Gateway) ConfirmDelivery(ctx context.Context, contract string) (*TxResult, error) {
	return g.invoke(ctx, "confirm_delivery", contract, "confirmDelivery")
}

// State reads the full escrow tuple from the contract.
func (g *Gateway) State(ctx context.Context, contract string) (*OrderState, error) {
	if err := g.ValidateAddress(contract); err != nil {
		return nil, err
	}

	data, err := g.artifact.ABI.Pack("getOrderState")
	if err != nil {
		return nil, &CallError{Op: "state", Err: err}
	}

	to := common.HexToAddress(contract)
	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		g.breaker.RecordFailure(g.rpcURL)
		return nil, &CallError{Op: "state", Err: classifySendError(err)}
	}
	g.breaker.RecordSuccess(g.rpcURL)

	out, err := g.artifact.ABI.Unpack("getOrderState", raw)
	if err != nil {
		return nil, &CallError{Op: "state", Err: err}
	}
	if len(out) != 7 {
		return nil, &CallError{Op: "state", Err: fmt.Errorf("unexpected tuple size %d", len(out))}
	}

	state := &OrderState{}
	var ok bool
	if state.Owner, ok = out[0].(common.Address); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad owner field")}
	}
	if state.Customer, ok = out[1].(common.Address); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad customer field")}
	}
	if state.Courier, ok = out[2].(common.Address); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad courier field")}
	}
	if state.Price, ok = out[3].(*big.Int); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad price field")}
	}
	if state.Paid, ok = out[4].(bool); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad paid field")}
	}
	if state.Delivered, ok = out[5].(bool); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad delivered field")}
	}
	if state.CourierBound, ok = out[6].(bool); !ok {
		return nil, &CallError{Op: "state", Err: errors.New("bad courierBound field")}
	}
	return state, nil
}

// invoke packs a method call, submits it as the operator, and waits for
// it to be mined.
func (g *Gateway) invoke(ctx context.Context, op, contract, method string, args ...interface{}) (*TxResult, error) {
	if err := g.ValidateAddress(contract); err != nil {
		return nil, err
	}

	data, err := g.artifact.ABI.Pack(method, args...)
	if err != nil {
		return nil, &CallError{Op: op, Err: err}
	}

	to := common.HexToAddress(contract)
	tx, err := g.submitWithRetry(ctx, op, &to, big.NewInt(0), 0, data)
	if err != nil {
		return nil, err
	}

	receipt, err := g.waitMined(ctx, op, tx.Hash())
	if err != nil {
		return nil, err
	}

	return &TxResult{
		TxHash:      tx.Hash().Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
		Nonce:       tx.Nonce(),
	}, nil
}

// submitWithRetry resubmits on nonce conflicts. A conflict resets the
// local nonce cache, so the next attempt refetches the pending nonce
// from the node.
func (g *Gateway) submitWithRetry(ctx context.Context, op string, to *common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	var tx *types.Transaction
	err := retry.Do(ctx, submitAttempts, submitRetryDelay, func() error {
		var submitErr error
		tx, submitErr = g.submitTx(ctx, op, to, value, gasLimit, data)
		if submitErr != nil && !errors.Is(submitErr, ErrNonceConflict) {
			return retry.Permanent(submitErr)
		}
		return submitErr
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// submitTx builds, signs, and sends an operator transaction. The nonce
// lock is held across fetch, sign, and send only; callers wait for
// mining outside the lock so slow confirmations do not serialize
// unrelated submissions.
func (g *Gateway) submitTx(ctx context.Context, op string, to *common.Address, value *big.Int, gasLimit uint64, data []byte) (*types.Transaction, error) {
	if !g.breaker.Allow(g.rpcURL) {
		metrics.ChainCallsTotal.WithLabelValues(op, "rejected").Inc()
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, g.rpcURL)
	}

	timer := prometheusTimer(op)
	defer timer()

	lockCtx, cancel := context.WithTimeout(ctx, g.submitTimeout)
	defer cancel()
	unlock, err := g.nonces.acquire(lockCtx)
	if err != nil {
		metrics.ChainCallsTotal.WithLabelValues(op, "timeout").Inc()
		return nil, fmt.Errorf("%w: waiting for nonce lock: %v", ErrTimeout, err)
	}
	defer unlock()

	pending, err := g.client.PendingNonceAt(ctx, g.operator)
	if err != nil {
		return nil, g.fail(op, "", classifySendError(err))
	}
	nonce := g.nonces.reserve(pending)

	// A reservation that never reaches the node must be handed back,
	// or the next submission signs past a gap the node will queue on
	// forever. The lock is still held here, so release is safe.
	sent := false
	defer func() {
		if !sent {
			g.nonces.release(nonce)
		}
	}()

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, g.fail(op, "", classifySendError(err))
	}

	if gasLimit == 0 {
		gasLimit, err = g.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  g.operator,
			To:    to,
			Value: value,
			Data:  data,
		})
		if err != nil {
			gasLimit = DefaultGasLimit
		}
	}

	var tx *types.Transaction
	if to == nil {
		tx = types.NewContractCreation(nonce, value, gasLimit, gasPrice, data)
	} else {
		tx = types.NewTransaction(nonce, *to, value, gasLimit, gasPrice, data)
	}

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.operatorKey)
	if err != nil {
		return nil, g.fail(op, "", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		err = classifySendError(err)
		if errors.Is(err, ErrNonceConflict) {
			g.nonces.reset()
		}
		return nil, g.fail(op, signedTx.Hash().Hex(), err)
	}

	sent = true
	g.breaker.RecordSuccess(g.rpcURL)
	metrics.ChainCallsTotal.WithLabelValues(op, "ok").Inc()
	return signedTx, nil
}

// waitMined polls for the transaction receipt until mined or timeout.
func (g *Gateway) waitMined(ctx context.Context, op string, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &CallError{Op: op, TxHash: hash.Hex(), Err: ErrTimeout}
			}
			return nil, ctx.Err()

		case <-ticker.C:
			receipt, err := g.client.TransactionReceipt(ctx, hash)
			if err != nil {
				// Transaction not yet mined, continue waiting
				continue
			}
			if receipt.Status == 0 {
				return nil, &CallError{Op: op, TxHash: hash.Hex(), Err: ErrReverted}
			}
			return receipt, nil
		}
	}
}

func (g *Gateway) fail(op, txHash string, err error) error {
	if errors.Is(err, ErrRPCConnection) {
		g.breaker.RecordFailure(g.rpcURL)
	}
	metrics.ChainCallsTotal.WithLabelValues(op, "error").Inc()
	return &CallError{Op: op, TxHash: txHash, Err: err}
}

// prometheusTimer returns a stop function observing elapsed seconds.
func prometheusTimer(op string) func() {
	start := time.Now()
	return func() {
		metrics.ChainCallDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// Close closes the client connection
func (g *Gateway) Close() error {
	if g.client != nil {
		g.client.Close()
	}
	return nil
}
