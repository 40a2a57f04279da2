package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"bad conn", driver.ErrBadConn, ledgererr.ErrStorageUnavailable},
		{"deadline", context.DeadlineExceeded, ledgererr.ErrStorageUnavailable},
		{"reference clash", &pq.Error{Code: "23505", Constraint: "transactions_reference_key"}, ledgererr.ErrDuplicateReference},
		{"idempotency clash", &pq.Error{Code: "23505", Constraint: "transactions_idempotency_key"}, ErrIdempotencyKeyTaken},
		{"account number clash", &pq.Error{Code: "23505", Constraint: "accounts_account_number_key"}, ledgererr.ErrConflict},
		{"check violation", &pq.Error{Code: "23514", Constraint: "accounts_balance_check"}, ledgererr.ErrInvariantViolation},
		{"serialization failure", &pq.Error{Code: "40001"}, ledgererr.ErrStorageUnavailable},
		{"connection class", &pq.Error{Code: "08006"}, ledgererr.ErrStorageUnavailable},
		{"ledger error passes through", fmt.Errorf("%w: x", ledgererr.ErrNotFound), ledgererr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if classify(nil) != nil {
		t.Error("classify(nil) != nil")
	}
	plain := errors.New("syntax error")
	if got := classify(plain); got != plain {
		t.Errorf("unknown error rewritten: %v", got)
	}
}

// openTestStore connects to LEDGER_TEST_DATABASE_URL, skipping when unset.
func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := OpenPostgres(ctx, url, 5)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(ctx, db, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return NewPostgresStore(db)
}

func TestPostgresStore_Integration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	userID := "it-" + uuid.NewString()

	account, err := models.NewAccount(userID, "Integration", models.AccountSavings, "NGN", now)
	if err != nil {
		t.Fatal(err)
	}
	account.Balance = decimal.NewFromInt(1000)
	account.AvailableBalance = account.Balance
	if err := store.WithinTx(ctx, func(tx Tx) error { return tx.InsertAccount(ctx, account) }); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}

	txn, err := models.NewTransaction(models.NewTransactionParams{
		Type:   models.TypeWithdrawal, UserID: userID, SourceAccountID: account.ID,
		Amount: decimal.NewFromInt(400), IdempotencyKey: "it-key",
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	txn.Reference = "WDR" + uuid.NewString()[:8]
	txn.Status = models.StatusCompleted

	t.Run("insert and read back", func(t *testing.T) {
		if err := store.WithinTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, txn) }); err != nil {
			t.Fatalf("InsertTransaction: %v", err)
		}
		got, err := store.GetTransactionByReference(ctx, txn.Reference)
		if err != nil {
			t.Fatalf("GetTransactionByReference: %v", err)
		}
		if !got.Amount.Equal(txn.Amount) || got.Status != models.StatusCompleted {
			t.Errorf("got %+v", got)
		}
		if exists, err := store.ReferenceExists(ctx, txn.Reference); err != nil || !exists {
			t.Errorf("ReferenceExists = %v, %v", exists, err)
		}
	})

	t.Run("duplicate reference", func(t *testing.T) {
		dup := *txn
		dup.ID = uuid.NewString()
		dup.IdempotencyKey = ""
		err := store.WithinTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, &dup) })
		if !errors.Is(err, ledgererr.ErrDuplicateReference) {
			t.Fatalf("err = %v, want DuplicateReference", err)
		}
	})

	t.Run("idempotency key", func(t *testing.T) {
		again := *txn
		again.ID = uuid.NewString()
		again.Reference = "WDR" + uuid.NewString()[:8]
		err := store.WithinTx(ctx, func(tx Tx) error { return tx.InsertTransaction(ctx, &again) })
		if !errors.Is(err, ErrIdempotencyKeyTaken) {
			t.Fatalf("err = %v, want ErrIdempotencyKeyTaken", err)
		}
	})

	t.Run("sums and locks", func(t *testing.T) {
		err := store.WithinTx(ctx, func(tx Tx) error {
			if err := tx.LockUserWindow(ctx, userID); err != nil {
				return err
			}
			locked, err := tx.LockAccount(ctx, account.ID)
			if err != nil {
				return err
			}
			if !locked.Balance.Equal(decimal.NewFromInt(1000)) {
				t.Errorf("locked balance = %s", locked.Balance)
			}
			sum, err := tx.SumUserAmounts(ctx, userID, []models.TransactionType{models.TypeWithdrawal}, now.Add(-time.Hour), now.Add(time.Hour))
			if err != nil {
				return err
			}
			if !sum.Equal(decimal.NewFromInt(400)) {
				t.Errorf("sum = %s, want 400", sum)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(tx Tx) error {
			locked, err := tx.LockAccount(ctx, account.ID)
			if err != nil {
				return err
			}
			locked.Balance = decimal.Zero
			locked.AvailableBalance = decimal.Zero
			locked.Version++
			if err := tx.SaveAccount(ctx, locked); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
		got, err := store.GetAccount(ctx, account.ID)
		if err != nil || !got.Balance.Equal(decimal.NewFromInt(1000)) {
			t.Fatalf("balance after rollback = %v, %v", got, err)
		}
	})
}
