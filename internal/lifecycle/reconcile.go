package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mvasiljev/orderchain/internal/metrics"
	"github.com/mvasiljev/orderchain/internal/order"
)

// Reconciler periodically reads contract flags for unfinished orders
// and advances ledger rows the chain has moved past. The chain is the
// source of truth; the ledger only ever advances.
type Reconciler struct {
	orders   order.Store
	gw       ChainGateway
	notifier Notifier
	interval time.Duration
	batch    int
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewReconciler creates a new reconciliation sweep.
func NewReconciler(orders order.Store, gw ChainGateway, interval time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		orders:   orders,
		gw:       gw,
		interval: interval,
		batch:    100,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// WithNotifier adds a realtime event sink for repaired orders.
func (r *Reconciler) WithNotifier(n Notifier) *Reconciler {
	r.notifier = n
	return r
}

// Running reports whether the sweep loop is actively running.
func (r *Reconciler) Running() bool {
	return r.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (r *Reconciler) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeSweep(ctx)
		}
	}
}

// Stop signals the sweep to stop.
func (r *Reconciler) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Reconciler) safeSweep(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in reconciliation sweep", "panic", fmt.Sprint(rec))
		}
	}()
	r.Sweep(ctx)
}

// Sweep runs one reconciliation pass. Exported so operations tooling
// and tests can trigger it directly.
func (r *Reconciler) Sweep(ctx context.Context) {
	unfinished, err := r.orders.ListUnfinished(ctx, r.batch)
	if err != nil {
		r.logger.Warn("failed to list unfinished orders", "error", err)
		metrics.ReconcileRunsTotal.WithLabelValues("error").Inc()
		return
	}

	var pendingDeliveries float64
	for _, o := range unfinished {
		state, err := r.gw.State(ctx, o.ContractAddr)
		if err != nil {
			r.logger.Warn("failed to read contract state",
				"orderId", o.ID, "contract", o.ContractAddr, "error", err)
			continue
		}

		if state.Paid && !state.Delivered {
			pendingDeliveries++
		}

		switch {
		case state.Delivered && o.Status != order.StatusComplete:
			r.advance(ctx, o, order.StatusComplete)

		case state.Paid && state.CourierBound && o.Status == order.StatusCreated:
			if o.CourierAddr == "" {
				// The contract only knows the courier's address; the
				// empty email leaves any stored value alone.
				courier := state.Courier.Hex()
				if err := r.orders.SetCourier(ctx, o.ID, "", courier); err != nil {
					r.logger.Warn("failed to record courier from chain",
						"orderId", o.ID, "error", err)
				}
			}
			r.advance(ctx, o, order.StatusPending)
		}
	}

	metrics.PendingDeliveries.Set(pendingDeliveries)
	metrics.ReconcileRunsTotal.WithLabelValues("ok").Inc()
}

func (r *Reconciler) advance(ctx context.Context, o *order.Order, to order.Status) {
	if err := r.orders.UpdateStatus(ctx, o.ID, o.Status, to); err != nil {
		// A lost race means someone else advanced the row; that is fine.
		if err != order.ErrStatusConflict {
			r.logger.Warn("failed to advance order from chain state",
				"orderId", o.ID, "from", o.Status, "to", to, "error", err)
		}
		return
	}

	metrics.ReconcileRepairsTotal.WithLabelValues(string(to)).Inc()
	metrics.OrdersTotal.WithLabelValues(string(to)).Inc()
	r.logger.Info("reconciled order from chain state",
		"orderId", o.ID, "from", o.Status, "to", to, "contract", o.ContractAddr)

	if r.notifier != nil {
		r.notifier.OrderEvent(o.ID, string(to), o.ContractAddr)
	}
}
