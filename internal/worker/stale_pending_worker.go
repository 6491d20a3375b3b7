package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/observability"
	"github.com/hazinapay/backend/internal/repository"
)

// StalePendingWorker periodically surfaces pending transactions that have
// outlived the configured window without a callback. It reports and gauges
// them for operators but never mutates: a late callback must still find the
// row pending, and a forced failure would race it.
type StalePendingWorker struct {
	store    *repository.Store
	logger   *zap.Logger
	after    time.Duration
	interval time.Duration
	limit    int
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewStalePendingWorker(store *repository.Store, logger *zap.Logger) *StalePendingWorker {
	if logger == nil {
		logger = zap.L()
	}
	return &StalePendingWorker{
		store:    store,
		logger:   logger,
		after:    2 * time.Hour,
		interval: 30 * time.Minute,
		limit:    200,
		stopCh:   make(chan struct{}),
	}
}

// WithWindow sets how long a transaction may stay pending before it is
// reported, and how often the sweep runs.
func (w *StalePendingWorker) WithWindow(after, interval time.Duration) *StalePendingWorker {
	if after > 0 {
		w.after = after
	}
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start runs the sweep loop until Stop is called or the context is canceled.
func (w *StalePendingWorker) Start(ctx context.Context) {
	w.logger.Info("stale pending worker starting",
		zap.Duration("after", w.after),
		zap.Duration("interval", w.interval),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stale pending worker stopping on context cancel")
			return
		case <-w.stopCh:
			w.logger.Info("stale pending worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *StalePendingWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *StalePendingWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep immediately. Useful for tests and manual runs.
func (w *StalePendingWorker) SweepOnce(ctx context.Context) error {
	return w.report(ctx)
}

func (w *StalePendingWorker) sweep(ctx context.Context) {
	if err := w.report(ctx); err != nil {
		observability.IncrementWorkerRun("stale_pending", "error")
		w.logger.Error("stale pending sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("stale_pending", "ok")
}

func (w *StalePendingWorker) report(ctx context.Context) error {
	cutoff := time.Now().Add(-w.after)
	stale, err := w.store.Queries().ListStalePending(ctx, cutoff, w.limit)
	if err != nil {
		return err
	}

	observability.SetStalePendingCount(len(stale))
	if len(stale) == 0 {
		return nil
	}

	synthetic := 0
	for i := range stale {
		tx := &stale[i]
		checkoutID := ""
		if tx.CheckoutRequestID != nil {
			checkoutID = *tx.CheckoutRequestID
		}
		isSynthetic := strings.HasPrefix(checkoutID, domain.SyntheticCheckoutPrefix)
		if isSynthetic {
			synthetic++
		}
		w.logger.Warn("transaction pending past window",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("type", tx.Type),
			zap.String("checkout_request_id", checkoutID),
			zap.Bool("synthetic_checkout_id", isSynthetic),
			zap.Time("created_at", tx.CreatedAt),
		)
	}

	w.logger.Info("stale pending sweep complete",
		zap.Int("stale", len(stale)),
		zap.Int("synthetic", synthetic),
	)
	return nil
}
