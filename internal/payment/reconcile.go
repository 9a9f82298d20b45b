package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/coursepay/internal/metrics"
	"github.com/dukerupert/coursepay/internal/store"
)

// SweepResult counts what one reconciliation pass did.
type SweepResult struct {
	Checked   int
	Confirmed int
	Cancelled int
	Repaired  int
	Errors    int
}

// Reconciler periodically re-checks purchases that confirmation may have
// missed: pending ones whose webhook never arrived and paid ones whose
// fulfillment failed.
type Reconciler struct {
	mu        sync.RWMutex
	service   *Service
	purchases *store.PurchaseStore
	interval  time.Duration
	grace     time.Duration
	batch     int
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewReconciler(svc *Service, purchases *store.PurchaseStore, interval, grace time.Duration, batch int, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Reconciler{
		service:   svc,
		purchases: purchases,
		interval:  interval,
		grace:     grace,
		batch:     batch,
		logger:    logger,
	}
}

// Start begins the sweep loop.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	done := r.done
	r.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Sweep runs one reconciliation pass. Errors on a single purchase are logged
// and counted; they never stop the pass.
func (r *Reconciler) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	r.service.metrics.SweepRun()

	cutoff := time.Now().UTC().Add(-r.grace)
	stale, err := r.purchases.ListStalePending(ctx, cutoff, r.batch)
	if err != nil {
		r.logger.Error("list stale purchases", "error", err)
		r.service.metrics.SweepError("list_pending")
		res.Errors++
	}
	for i := range stale {
		if ctx.Err() != nil {
			return res
		}
		p := &stale[i]
		res.Checked++

		st, err := r.service.gatewayStatus(ctx, *p.BillingID)
		if err != nil {
			r.logger.Warn("sweep status check", "purchase_id", p.ID, "billing_id", *p.BillingID, "error", err)
			r.service.metrics.SweepError("check")
			res.Errors++
			continue
		}
		after, err := r.service.apply(ctx, p, st, metrics.SourceSweep)
		if err != nil {
			r.logger.Error("sweep apply status", "purchase_id", p.ID, "error", err)
			r.service.metrics.SweepError("apply")
			res.Errors++
			continue
		}
		switch after {
		case StatusPaid:
			res.Confirmed++
		case StatusCancelled:
			res.Cancelled++
		}
	}

	unfulfilled, err := r.purchases.ListUnfulfilled(ctx, cutoff, r.batch)
	if err != nil {
		r.logger.Error("list unfulfilled purchases", "error", err)
		r.service.metrics.SweepError("list_unfulfilled")
		res.Errors++
	}
	for i := range unfulfilled {
		if ctx.Err() != nil {
			return res
		}
		p := &unfulfilled[i]
		if _, err := r.service.fulfill(ctx, p); err != nil {
			r.logger.Error("sweep fulfill", "purchase_id", p.ID, "error", err)
			r.service.metrics.SweepError("fulfill")
			res.Errors++
			continue
		}
		res.Repaired++
	}

	if res.Checked > 0 || res.Repaired > 0 || res.Errors > 0 {
		r.logger.Info("reconciliation sweep",
			"checked", res.Checked,
			"confirmed", res.Confirmed,
			"cancelled", res.Cancelled,
			"repaired", res.Repaired,
			"errors", res.Errors,
		)
	}
	return res
}
