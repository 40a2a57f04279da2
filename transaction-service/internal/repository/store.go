package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Br41n7/Securebank/shared/models"
	"github.com/shopspring/decimal"
)

// ErrIdempotencyKeyTaken is returned on insert when the user already has a
// transaction under the same idempotency key.
var ErrIdempotencyKeyTaken = errors.New("idempotency key already used")

// Store is the durable ledger state. Every engine step runs inside WithinTx;
// the remaining methods are non-locking reads for the query side and workers.
type Store interface {
	// WithinTx runs fn in one store transaction. fn's writes become visible
	// together when it returns nil and are discarded otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	ListTransactionsByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error)
	ListLogs(ctx context.Context, transactionID string) ([]models.TransactionLog, error)
	// ListStuck returns PROCESSING transactions last touched before cutoff, oldest first.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)

	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccountsByUser(ctx context.Context, userID string) ([]models.Account, error)

	GetTransactionLimit(ctx context.Context, userID string) (*models.TransactionLimit, error)
	GetSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error)

	GetBeneficiary(ctx context.Context, id string) (*models.Beneficiary, error)
	ListBeneficiaries(ctx context.Context, userID string) ([]models.Beneficiary, error)
	ListSchedules(ctx context.Context, userID string) ([]models.ScheduledTransaction, error)
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ScheduledTransaction, error)
}

// Tx is a single store transaction. Locks are held until it ends. Callers
// lock in a fixed order: transaction row, user limit window, then accounts in
// ascending id order.
type Tx interface {
	LockTransaction(ctx context.Context, reference string) (*models.Transaction, error)
	LockUserWindow(ctx context.Context, userID string) error
	LockAccount(ctx context.Context, accountID string) (*models.Account, error)

	// SumUserAmounts totals the amount of the user's PROCESSING and COMPLETED
	// transactions of the given types created in [from, to).
	SumUserAmounts(ctx context.Context, userID string, types []models.TransactionType, from, to time.Time) (decimal.Decimal, error)
	// SumAccountOutgoing totals the amount of PROCESSING and COMPLETED
	// transactions debiting accountID created in [from, to).
	SumAccountOutgoing(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error)

	InsertTransaction(ctx context.Context, txn *models.Transaction) error
	UpdateTransaction(ctx context.Context, txn *models.Transaction) error
	AppendLog(ctx context.Context, log *models.TransactionLog) error

	InsertAccount(ctx context.Context, account *models.Account) error
	SaveAccount(ctx context.Context, account *models.Account) error

	UpsertTransactionLimit(ctx context.Context, limit *models.TransactionLimit) error
	UpsertSecuritySettings(ctx context.Context, settings *models.SecuritySettings) error
	InsertBeneficiary(ctx context.Context, b *models.Beneficiary) error
	TouchBeneficiary(ctx context.Context, id string, at time.Time) error
	SaveSchedule(ctx context.Context, s *models.ScheduledTransaction) error
}

// countedStatuses are the statuses that consume limit headroom.
var countedStatuses = []models.TransactionStatus{models.StatusProcessing, models.StatusCompleted}

func counted(s models.TransactionStatus) bool {
	for _, c := range countedStatuses {
		if s == c {
			return true
		}
	}
	return false
}
