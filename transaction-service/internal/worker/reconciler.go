// Package worker holds the background loops that keep the ledger moving
// without a user request: stuck-transaction reconciliation, recurring
// transfers and payment gateway callbacks.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
	"github.com/Br41n7/Securebank/transaction-service/internal/telemetry"
)

const (
	reconcileBatch = 100
	timeoutReason  = "TIMEOUT"
)

type TransactionFailer interface {
	Fail(ctx context.Context, cmd cqrs.FailTransactionCommand) (*models.Transaction, error)
}

// Reconciler fails transactions that have sat in PROCESSING longer than
// stuckAfter, releasing their holds.
type Reconciler struct {
	store      repository.Store
	engine     TransactionFailer
	stuckAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewReconciler(store repository.Store, engine TransactionFailer, stuckAfter time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:      store,
		engine:     engine,
		stuckAfter: stuckAfter,
		logger:     logger.With("worker", "reconciler"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce handles one batch and returns how many transactions it failed.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	stuck, err := r.store.ListStuck(ctx, r.now().Add(-r.stuckAfter), reconcileBatch)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, txn := range stuck {
		_, err := r.engine.Fail(ctx, cqrs.FailTransactionCommand{Reference: txn.Reference, Reason: timeoutReason})
		switch {
		case err == nil:
			failed++
			telemetry.RecordWorkerItem("reconciler", "failed")
			r.logger.InfoContext(ctx, "stuck transaction failed", "reference", txn.Reference)
		case errors.Is(err, ledgererr.ErrInvalidStateTransition):
			// Settled by someone else after the listing.
			telemetry.RecordWorkerItem("reconciler", "skipped")
		default:
			telemetry.RecordWorkerItem("reconciler", "error")
			r.logger.ErrorContext(ctx, "failed to reconcile transaction", "reference", txn.Reference, "error", err)
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
		}
	}
	return failed, nil
}

// Run calls RunOnce every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, r.logger, func(ctx context.Context) error {
		_, err := r.RunOnce(ctx)
		return err
	})
}

func runEvery(ctx context.Context, interval time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("worker started", "interval", interval)
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			logger.Error("worker pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
