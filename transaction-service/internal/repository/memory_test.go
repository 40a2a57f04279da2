package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func seedAccount(t *testing.T, s *MemoryStore, userID string, balance int64) *models.Account {
	t.Helper()
	a, err := models.NewAccount(userID, "Test", models.AccountSavings, "NGN", testNow)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	a.Balance = decimal.NewFromInt(balance)
	a.AvailableBalance = a.Balance
	if err := s.WithinTx(context.Background(), func(tx Tx) error { return tx.InsertAccount(context.Background(), a) }); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	return a
}

func newTxn(userID, source, reference string, amount int64, status models.TransactionStatus, created time.Time) *models.Transaction {
	return &models.Transaction{
		ID:              reference + "-id",
		Reference:       reference,
		Type:            models.TypeTransfer,
		UserID:          userID,
		SourceAccountID: source,
		Amount:          decimal.NewFromInt(amount),
		TotalAmount:     decimal.NewFromInt(amount),
		Currency:        "NGN",
		Status:          status,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func insert(t *testing.T, s *MemoryStore, txns ...*models.Transaction) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		for _, txn := range txns {
			if err := tx.InsertTransaction(context.Background(), txn); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "user-1", 100)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx Tx) error {
		locked, err := tx.LockAccount(ctx, a.ID)
		if err != nil {
			return err
		}
		locked.Balance = decimal.Zero
		locked.AvailableBalance = decimal.Zero
		if err := tx.SaveAccount(ctx, locked); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := s.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !got.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("balance = %s, want 100", got.Balance)
	}
}

func TestMemoryStore_InjectedCommitFaultDiscardsWrites(t *testing.T) {
	s := NewMemoryStore()
	s.InjectFault(func(op string) error {
		if op == "commit" {
			return ledgererr.ErrStorageUnavailable
		}
		return nil
	})

	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertTransaction(context.Background(), newTxn("u", "", "TRF1", 10, models.StatusPending, testNow))
	})
	if !errors.Is(err, ledgererr.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
	exists, _ := s.ReferenceExists(context.Background(), "TRF1")
	if exists {
		t.Error("transaction visible after failed commit")
	}
}

func TestMemoryStore_DuplicateReference(t *testing.T) {
	s := NewMemoryStore()
	insert(t, s, newTxn("u", "", "TRF1", 10, models.StatusPending, testNow))

	dup := newTxn("u", "", "TRF1", 10, models.StatusPending, testNow)
	dup.ID = "other-id"
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertTransaction(context.Background(), dup)
	})
	if !errors.Is(err, ledgererr.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
}

func TestMemoryStore_IdempotencyKeyScopedToUser(t *testing.T) {
	s := NewMemoryStore()
	first := newTxn("u1", "", "TRF1", 10, models.StatusPending, testNow)
	first.IdempotencyKey = "k"
	insert(t, s, first)

	sameUser := newTxn("u1", "", "TRF2", 10, models.StatusPending, testNow)
	sameUser.IdempotencyKey = "k"
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.InsertTransaction(context.Background(), sameUser)
	})
	if !errors.Is(err, ErrIdempotencyKeyTaken) {
		t.Fatalf("expected key taken, got %v", err)
	}

	otherUser := newTxn("u2", "", "TRF3", 10, models.StatusPending, testNow)
	otherUser.IdempotencyKey = "k"
	insert(t, s, otherUser)

	got, err := s.FindByIdempotencyKey(context.Background(), "u1", "k")
	if err != nil {
		t.Fatalf("FindByIdempotencyKey: %v", err)
	}
	if got.Reference != "TRF1" {
		t.Errorf("reference = %s, want TRF1", got.Reference)
	}
}

func TestMemoryStore_SumsCountProcessingAndCompletedInWindow(t *testing.T) {
	s := NewMemoryStore()
	from := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	insert(t, s,
		newTxn("u", "acct", "A", 100, models.StatusCompleted, testNow),
		newTxn("u", "acct", "B", 200, models.StatusProcessing, testNow),
		newTxn("u", "acct", "C", 400, models.StatusPending, testNow),
		newTxn("u", "acct", "D", 800, models.StatusFailed, testNow),
		newTxn("u", "acct", "E", 1600, models.StatusCompleted, from.Add(-time.Second)),
		newTxn("other", "acct2", "F", 3200, models.StatusCompleted, testNow),
	)

	ctx := context.Background()
	err := s.WithinTx(ctx, func(tx Tx) error {
		user, err := tx.SumUserAmounts(ctx, "u", []models.TransactionType{models.TypeTransfer}, from, to)
		if err != nil {
			return err
		}
		if !user.Equal(decimal.NewFromInt(300)) {
			t.Errorf("user sum = %s, want 300", user)
		}
		none, err := tx.SumUserAmounts(ctx, "u", []models.TransactionType{models.TypeWithdrawal}, from, to)
		if err != nil {
			return err
		}
		if !none.IsZero() {
			t.Errorf("withdrawal sum = %s, want 0", none)
		}
		acct, err := tx.SumAccountOutgoing(ctx, "acct", from, to)
		if err != nil {
			return err
		}
		if !acct.Equal(decimal.NewFromInt(300)) {
			t.Errorf("account sum = %s, want 300", acct)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMemoryStore_AccountLockSerialises(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "user-1", 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(tx Tx) error {
				locked, err := tx.LockAccount(ctx, a.ID)
				if err != nil {
					return err
				}
				locked.Balance = locked.Balance.Add(decimal.NewFromInt(1))
				locked.AvailableBalance = locked.Balance
				return tx.SaveAccount(ctx, locked)
			})
			if err != nil {
				t.Errorf("WithinTx: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.GetAccount(ctx, a.ID)
	if !got.Balance.Equal(decimal.NewFromInt(50)) {
		t.Errorf("balance = %s, want 50", got.Balance)
	}
}

func TestMemoryStore_LockHonoursContext(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "user-1", 0)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(context.Background(), func(tx Tx) error {
			if _, err := tx.LockAccount(context.Background(), a.ID); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.LockAccount(ctx, a.ID)
		return err
	})
	if !errors.Is(err, ledgererr.ErrStorageUnavailable) {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestMemoryStore_SaveAccountRequiresLock(t *testing.T) {
	s := NewMemoryStore()
	a := seedAccount(t, s, "user-1", 10)
	err := s.WithinTx(context.Background(), func(tx Tx) error {
		return tx.SaveAccount(context.Background(), a)
	})
	if err == nil {
		t.Fatal("expected error saving an unlocked account")
	}
}

func TestMemoryStore_ListStuck(t *testing.T) {
	s := NewMemoryStore()
	old := newTxn("u", "a", "OLD", 10, models.StatusProcessing, testNow.Add(-time.Hour))
	fresh := newTxn("u", "a", "NEW", 10, models.StatusProcessing, testNow)
	done := newTxn("u", "a", "DONE", 10, models.StatusCompleted, testNow.Add(-time.Hour))
	insert(t, s, old, fresh, done)

	stuck, err := s.ListStuck(context.Background(), testNow.Add(-30*time.Minute), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].Reference != "OLD" {
		t.Fatalf("stuck = %+v, want only OLD", stuck)
	}
}

func TestMemoryStore_BeneficiaryConflictAndTouch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b, err := models.NewBeneficiary("u", "Ada", "0123456789", "GTB", models.BeneficiaryExternal, "", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WithinTx(ctx, func(tx Tx) error { return tx.InsertBeneficiary(ctx, b) }); err != nil {
		t.Fatal(err)
	}

	dup, _ := models.NewBeneficiary("u", "Ada L", "0123456789", "GTB", models.BeneficiaryExternal, "", testNow)
	err = s.WithinTx(ctx, func(tx Tx) error { return tx.InsertBeneficiary(ctx, dup) })
	if !errors.Is(err, ledgererr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if err := s.WithinTx(ctx, func(tx Tx) error { return tx.TouchBeneficiary(ctx, b.ID, testNow) }); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetBeneficiary(ctx, b.ID)
	if got.UsageCount != 1 || got.LastUsed == nil {
		t.Errorf("usage = %d lastUsed = %v", got.UsageCount, got.LastUsed)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name          string
		limit, offset int
		want          int
	}{
		{"all", 0, 0, 5},
		{"first two", 2, 0, 2},
		{"tail", 10, 3, 2},
		{"past end", 2, 9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := page(items, tt.limit, tt.offset); len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}
