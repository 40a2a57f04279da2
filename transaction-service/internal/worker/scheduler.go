package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
	"github.com/Br41n7/Securebank/transaction-service/internal/telemetry"
)

const scheduleBatch = 50

type TransactionCreator interface {
	CreateTransaction(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.Transaction, error)
}

// Scheduler turns due recurring transfers into TRANSFER transactions.
type Scheduler struct {
	store  repository.Store
	engine TransactionCreator
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(store repository.Store, engine TransactionCreator, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		engine: engine,
		logger: logger.With("worker", "scheduler"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// scheduleKey makes each run of a schedule idempotent, so two scheduler
// instances racing on the same run create one transaction.
func scheduleKey(s *models.ScheduledTransaction) string {
	return fmt.Sprintf("schedule:%s:%d", s.ID, s.ExecutionCount)
}

// RunOnce executes every due schedule and returns how many transactions
// it created.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.store.ListDueSchedules(ctx, now, scheduleBatch)
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range due {
		sched := &due[i]
		txn, err := s.engine.CreateTransaction(ctx, cqrs.CreateTransactionCommand{
			UserID:               sched.UserID,
			Type:                 models.TypeTransfer,
			SourceAccountID:      sched.SourceAccountID,
			DestinationAccountID: sched.DestinationAccountID,
			Amount:               sched.Amount,
			Currency:             sched.Currency,
			Description:          sched.Description,
			RecipientName:        sched.BeneficiaryName,
			RecipientAccount:     sched.BeneficiaryAccount,
			RecipientBank:        sched.BeneficiaryBank,
			IdempotencyKey:       scheduleKey(sched),
			PreAuthorized:        true,
		})
		switch {
		case err == nil:
			created++
			telemetry.RecordWorkerItem("scheduler", "created")
			s.logger.InfoContext(ctx, "scheduled transfer created", "schedule_id", sched.ID, "reference", txn.Reference)
			sched.Advance(now)
		case errors.Is(err, ledgererr.ErrStorageUnavailable):
			// Leave the run due; the next pass retries it.
			telemetry.RecordWorkerItem("scheduler", "retry")
			s.logger.WarnContext(ctx, "scheduled transfer deferred", "schedule_id", sched.ID, "error", err)
			continue
		case needsOwner(err):
			// Every later run would fail the same way, so park the schedule
			// without spending an execution.
			telemetry.RecordWorkerItem("scheduler", "paused")
			s.logger.WarnContext(ctx, "scheduled transfer paused", "schedule_id", sched.ID, "code", ledgererr.CodeOf(err), "error", err)
			sched.Pause(now)
		default:
			telemetry.RecordWorkerItem("scheduler", "rejected")
			s.logger.WarnContext(ctx, "scheduled transfer rejected", "schedule_id", sched.ID, "code", ledgererr.CodeOf(err), "error", err)
			sched.Advance(now)
		}

		if err := s.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.SaveSchedule(ctx, sched) }); err != nil {
			s.logger.ErrorContext(ctx, "failed to save schedule", "schedule_id", sched.ID, "status", sched.Status, "error", err)
			if ctx.Err() != nil {
				return created, ctx.Err()
			}
		}
	}
	return created, nil
}

// needsOwner reports rejections caused by the schedule rather than by this
// run: a missing or inactive account, a currency mismatch, or an account the
// owner no longer controls.
func needsOwner(err error) bool {
	return errors.Is(err, ledgererr.ErrNotFound) ||
		errors.Is(err, ledgererr.ErrForbidden) ||
		errors.Is(err, ledgererr.ErrAccountNotActive) ||
		errors.Is(err, ledgererr.ErrInvalidTransaction)
}

func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	return runEvery(ctx, interval, s.logger, func(ctx context.Context) error {
		_, err := s.RunOnce(ctx)
		return err
	})
}
