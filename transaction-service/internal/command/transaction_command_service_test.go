package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/limits"
	"github.com/Br41n7/Securebank/transaction-service/internal/reference"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProfiles struct {
	mu       sync.Mutex
	limit    *models.TransactionLimit
	settings *models.SecuritySettings
	cached   []string
}

func (f *fakeProfiles) FetchLimit(ctx context.Context, userID string) (*models.TransactionLimit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limit != nil {
		l := *f.limit
		return &l, nil
	}
	return models.DefaultTransactionLimit(userID, models.TierBasic), nil
}

func (f *fakeProfiles) FetchSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settings != nil {
		s := *f.settings
		return &s, nil
	}
	return &models.SecuritySettings{UserID: userID, TransactionThreshold: models.DefaultTransactionThreshold}, nil
}

func (f *fakeProfiles) CacheLimit(ctx context.Context, l *models.TransactionLimit) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = append(f.cached, "limit:"+l.UserID)
}

func (f *fakeProfiles) CacheSecuritySettings(ctx context.Context, s *models.SecuritySettings) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = append(f.cached, "security:"+s.UserID)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	otps   []string
}

func (r *recordingNotifier) Notify(ctx context.Context, userID, event string, txn *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) SendOTP(ctx context.Context, txn *models.Transaction, code string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.otps = append(r.otps, code)
	return nil
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordingSink struct {
	mu      sync.Mutex
	actions []models.LogAction
}

func (r *recordingSink) Append(ctx context.Context, entry *models.TransactionLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, entry.Action)
	return nil
}

type engine struct {
	svc      *TransactionCommandService
	store    *repository.MemoryStore
	profiles *fakeProfiles
	notifier *recordingNotifier
	sink     *recordingSink
}

func newEngine(t *testing.T, opts ...Option) *engine {
	t.Helper()
	e := &engine{
		store:    repository.NewMemoryStore(),
		profiles: &fakeProfiles{},
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
	}
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithLogger(discardLogger()),
		WithOTPGenerator(func() (string, error) { return "123456", nil }),
	}
	e.svc = NewTransactionCommandService(e.store, e.profiles, e.notifier, e.sink, limits.NewEvaluator(time.UTC), append(base, opts...)...)
	return e
}

func (e *engine) seedAccount(t *testing.T, userID, balance string) *models.Account {
	t.Helper()
	a, err := models.NewAccount(userID, "Test", models.AccountSavings, "NGN", testNow)
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	a.Balance = d(balance)
	a.AvailableBalance = a.Balance
	ctx := context.Background()
	if err := e.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.InsertAccount(ctx, a) }); err != nil {
		t.Fatalf("InsertAccount: %v", err)
	}
	return a
}

func (e *engine) account(t *testing.T, id string) models.Account {
	t.Helper()
	a, err := e.store.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount(%s): %v", id, err)
	}
	if err := a.CheckInvariant(); err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
	return *a
}

func (e *engine) logActions(t *testing.T, txn *models.Transaction) []models.LogAction {
	t.Helper()
	logs, err := e.store.ListLogs(context.Background(), txn.ID)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	out := make([]models.LogAction, len(logs))
	for i, l := range logs {
		out[i] = l.Action
	}
	return out
}

func assertBalances(t *testing.T, a models.Account, balance, available, frozen string) {
	t.Helper()
	if !a.Balance.Equal(d(balance)) || !a.AvailableBalance.Equal(d(available)) || !a.FrozenBalance.Equal(d(frozen)) {
		t.Errorf("account %s = %s/%s/%s, want %s/%s/%s", a.ID,
			a.Balance, a.AvailableBalance, a.FrozenBalance, balance, available, frozen)
	}
}

func sameLedgerState(a, b models.Account) bool {
	return a.Version == b.Version && a.Balance.Equal(b.Balance) &&
		a.AvailableBalance.Equal(b.AvailableBalance) && a.FrozenBalance.Equal(b.FrozenBalance)
}

func assertActions(t *testing.T, got []models.LogAction, want ...models.LogAction) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("log actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log actions = %v, want %v", got, want)
		}
	}
}

func transfer(userID, source, dest, amount string) cqrs.CreateTransactionCommand {
	return cqrs.CreateTransactionCommand{
		UserID:               userID,
		Type:                 models.TypeTransfer,
		SourceAccountID:      source,
		DestinationAccountID: dest,
		Amount:               d(amount),
		Currency:             "NGN",
	}
}

func TestCreateTransaction_HoldsTotalThenCompletes(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	source := e.seedAccount(t, "user-1", "5000")
	dest := e.seedAccount(t, "user-2", "0")

	cmd := transfer("user-1", source.ID, dest.ID, "1000")
	cmd.Fee, cmd.Tax = d("50"), d("20")
	txn, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if txn.Status != models.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", txn.Status)
	}
	if !txn.TotalAmount.Equal(d("1070")) {
		t.Errorf("total = %s, want 1070", txn.TotalAmount)
	}
	assertBalances(t, e.account(t, source.ID), "5000", "3930", "1070")

	done, err := e.svc.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: txn.Reference})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != models.StatusCompleted || done.CompletedAt == nil {
		t.Fatalf("completed txn = %+v", done)
	}
	assertBalances(t, e.account(t, source.ID), "3930", "3930", "0")
	assertBalances(t, e.account(t, dest.ID), "1000", "1000", "0")
	assertActions(t, e.logActions(t, txn), models.ActionCreated, models.ActionCompleted)

	sent := e.notifier.sent()
	if len(sent) != 2 || sent[0] != events.TransactionSubmitted || sent[1] != events.TransactionCompleted {
		t.Errorf("notifications = %v", sent)
	}
	if len(e.sink.actions) != 2 {
		t.Errorf("audit sink got %v", e.sink.actions)
	}
}

func TestCreateTransaction_Validation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	source := e.seedAccount(t, "user-1", "100")
	other := e.seedAccount(t, "user-2", "100")

	usd, err := models.NewAccount("user-1", "Dollar", models.AccountCurrent, "USD", testNow)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.InsertAccount(ctx, usd) }); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cmd  cqrs.CreateTransactionCommand
		want error
	}{
		{"insufficient funds", transfer("user-1", source.ID, other.ID, "100.01"), ledgererr.ErrInsufficientFunds},
		{"foreign source", transfer("user-1", other.ID, source.ID, "10"), ledgererr.ErrForbidden},
		{"below minimum", transfer("user-1", source.ID, other.ID, "0.001"), ledgererr.ErrInvalidTransaction},
		{"currency mismatch", transfer("user-1", source.ID, usd.ID, "10"), ledgererr.ErrInvalidTransaction},
		{"unknown source", transfer("user-1", "missing", other.ID, "10"), ledgererr.ErrNotFound},
		{"deposit with fee", cqrs.CreateTransactionCommand{
			UserID: "user-1", Type: models.TypeDeposit, DestinationAccountID: source.ID,
			Amount: d("10"), Fee: d("1"),
		}, ledgererr.ErrInvalidTransaction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.CreateTransaction(ctx, tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	assertBalances(t, e.account(t, source.ID), "100", "100", "0")
	assertBalances(t, e.account(t, other.ID), "100", "100", "0")
	if txns, _ := e.store.ListTransactionsByAccount(ctx, source.ID, 0, 0); len(txns) != 0 {
		t.Errorf("rejected creates left %d transactions behind", len(txns))
	}
}

func TestCreateTransaction_FrozenDestination(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	source := e.seedAccount(t, "user-1", "100")
	dest := e.seedAccount(t, "user-2", "0")
	accounts := NewAccountCommandService(e.store, noopPublisher{}, discardLogger())
	if _, err := accounts.SetAccountStatus(ctx, cqrs.SetAccountStatusCommand{AccountID: dest.ID, Status: models.AccountFrozen}); err != nil {
		t.Fatal(err)
	}

	_, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, dest.ID, "10"))
	if !errors.Is(err, ledgererr.ErrAccountNotActive) {
		t.Fatalf("err = %v, want ErrAccountNotActive", err)
	}
	assertBalances(t, e.account(t, source.ID), "100", "100", "0")
}

func TestDailyLimitCountsCompletedTransfers(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	source := e.seedAccount(t, "user-1", "200000")

	// 80,000 already sent today against the BASIC daily transfer ceiling of 100,000.
	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		for i, amount := range []string{"50000", "30000"} {
			if err := tx.InsertTransaction(ctx, &models.Transaction{
				ID:              fmt.Sprintf("seed-%d", i),
				Reference:       fmt.Sprintf("TXNSEED%d", i),
				Type:            models.TypeTransfer,
				UserID:          "user-1",
				SourceAccountID: source.ID,
				Amount:          d(amount),
				TotalAmount:     d(amount),
				Currency:        "NGN",
				Status:          models.StatusCompleted,
				CreatedAt:       testNow.Add(-2 * time.Hour),
				UpdatedAt:       testNow.Add(-2 * time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "25000"))
	if !errors.Is(err, ledgererr.ErrLimitExceeded) {
		t.Fatalf("25000 err = %v, want ErrLimitExceeded", err)
	}
	assertBalances(t, e.account(t, source.ID), "200000", "200000", "0")

	txn, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "15000"))
	if err != nil {
		t.Fatalf("15000: %v", err)
	}
	if txn.Status != models.StatusProcessing {
		t.Fatalf("status = %s", txn.Status)
	}
	assertBalances(t, e.account(t, source.ID), "200000", "185000", "15000")
}

func TestConcurrentTransfersNeverOverdraw(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	source := e.seedAccount(t, "user-1", "1000")
	dest := e.seedAccount(t, "user-2", "0")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, insufficient := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, dest.ID, "100"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledgererr.ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 || insufficient != 10 {
		t.Fatalf("ok=%d insufficient=%d, want 10/10", ok, insufficient)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "0", "1000")
}

func TestCompleteRejectsIllegalSourceStates(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		setup func(t *testing.T, e *engine, cmd cqrs.CreateTransactionCommand) *models.Transaction
		want  models.TransactionStatus
	}{
		{
			name: "pending",
			setup: func(t *testing.T, e *engine, cmd cqrs.CreateTransactionCommand) *models.Transaction {
				cmd.ForceOTP = true
				txn, err := e.svc.CreateTransaction(ctx, cmd)
				if err != nil {
					t.Fatal(err)
				}
				return txn
			},
			want: models.StatusPending,
		},
		{
			name: "failed",
			setup: func(t *testing.T, e *engine, cmd cqrs.CreateTransactionCommand) *models.Transaction {
				txn, err := e.svc.CreateTransaction(ctx, cmd)
				if err != nil {
					t.Fatal(err)
				}
				if txn, err = e.svc.Fail(ctx, cqrs.FailTransactionCommand{Reference: txn.Reference, Reason: "gateway declined"}); err != nil {
					t.Fatal(err)
				}
				return txn
			},
			want: models.StatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t)
			source := e.seedAccount(t, "user-1", "500")
			dest := e.seedAccount(t, "user-2", "0")
			txn := tt.setup(t, e, transfer("user-1", source.ID, dest.ID, "200"))

			beforeSource, beforeDest := e.account(t, source.ID), e.account(t, dest.ID)
			beforeLogs := e.logActions(t, txn)

			_, err := e.svc.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: txn.Reference})
			if !errors.Is(err, ledgererr.ErrInvalidStateTransition) {
				t.Fatalf("err = %v, want ErrInvalidStateTransition", err)
			}

			got, _ := e.store.GetTransactionByReference(ctx, txn.Reference)
			if got.Status != tt.want {
				t.Errorf("status = %s, want %s", got.Status, tt.want)
			}
			if a := e.account(t, source.ID); !sameLedgerState(a, beforeSource) {
				t.Errorf("source changed: %+v -> %+v", beforeSource, a)
			}
			if a := e.account(t, dest.ID); !sameLedgerState(a, beforeDest) {
				t.Errorf("destination changed: %+v -> %+v", beforeDest, a)
			}
			if logs := e.logActions(t, txn); len(logs) != len(beforeLogs) {
				t.Errorf("logs = %v, want %v", logs, beforeLogs)
			}
		})
	}
}

func TestFailAndCancelReleaseHold(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")

	failed, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "300"))
	if err != nil {
		t.Fatal(err)
	}
	cancelled, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "200"))
	if err != nil {
		t.Fatal(err)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "500", "500")

	if _, err := e.svc.Fail(ctx, cqrs.FailTransactionCommand{Reference: failed.Reference}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	txn, err := e.svc.Cancel(ctx, cqrs.CancelTransactionCommand{Reference: cancelled.Reference, UserID: "user-1"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if txn.Notes != "cancelled by user" {
		t.Errorf("notes = %q", txn.Notes)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "1000", "0")
	assertActions(t, e.logActions(t, failed), models.ActionCreated, models.ActionFailed)
	assertActions(t, e.logActions(t, cancelled), models.ActionCreated, models.ActionCancelled)

	// Terminal states accept nothing further.
	if _, err := e.svc.Cancel(ctx, cqrs.CancelTransactionCommand{Reference: failed.Reference}); !errors.Is(err, ledgererr.ErrInvalidStateTransition) {
		t.Errorf("cancel after fail: %v", err)
	}
	if _, err := e.svc.Reverse(ctx, cqrs.ReverseTransactionCommand{Reference: cancelled.Reference}); !errors.Is(err, ledgererr.ErrInvalidStateTransition) {
		t.Errorf("reverse after cancel: %v", err)
	}
}

func TestCancelHidesOtherUsersTransactions(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")
	txn, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "10"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.svc.Cancel(ctx, cqrs.CancelTransactionCommand{Reference: txn.Reference, UserID: "intruder"})
	if !errors.Is(err, ledgererr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReverseRestoresBalances(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")
	dest := e.seedAccount(t, "user-2", "0")

	txn, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, dest.ID, "500"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: txn.Reference}); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, e.account(t, source.ID), "500", "500", "0")
	assertBalances(t, e.account(t, dest.ID), "500", "500", "0")

	reversed, err := e.svc.Reverse(ctx, cqrs.ReverseTransactionCommand{Reference: txn.Reference, Reason: "disputed"})
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if reversed.Status != models.StatusReversed {
		t.Fatalf("status = %s", reversed.Status)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "1000", "0")
	assertBalances(t, e.account(t, dest.ID), "0", "0", "0")
	assertActions(t, e.logActions(t, txn), models.ActionCreated, models.ActionCompleted, models.ActionReversed)

	if _, err := e.svc.Reverse(ctx, cqrs.ReverseTransactionCommand{Reference: txn.Reference}); !errors.Is(err, ledgererr.ErrInvalidStateTransition) {
		t.Errorf("second reverse: %v", err)
	}
}

func TestFeeAccountCreditedAndReversed(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	fees := e.seedAccount(t, "bank", "0")
	e.svc.feeAccountID = fees.ID
	source := e.seedAccount(t, "user-1", "2000")
	dest := e.seedAccount(t, "user-2", "0")

	cmd := transfer("user-1", source.ID, dest.ID, "1000")
	cmd.Fee, cmd.Tax = d("50"), d("20")
	txn, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: txn.Reference}); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, e.account(t, source.ID), "930", "930", "0")
	assertBalances(t, e.account(t, dest.ID), "1000", "1000", "0")
	assertBalances(t, e.account(t, fees.ID), "70", "70", "0")

	if _, err := e.svc.Reverse(ctx, cqrs.ReverseTransactionCommand{Reference: txn.Reference}); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, e.account(t, source.ID), "2000", "2000", "0")
	assertBalances(t, e.account(t, dest.ID), "0", "0", "0")
	assertBalances(t, e.account(t, fees.ID), "0", "0", "0")
}

func TestDepositCreditsOnCompletion(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	dest := e.seedAccount(t, "user-1", "0")

	txn, err := e.svc.CreateTransaction(ctx, cqrs.CreateTransactionCommand{
		UserID: "user-1", Type: models.TypeDeposit, DestinationAccountID: dest.ID, Amount: d("300"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != models.StatusProcessing || txn.RequiresOTP {
		t.Fatalf("deposit = %s requiresOTP=%v", txn.Status, txn.RequiresOTP)
	}
	assertBalances(t, e.account(t, dest.ID), "0", "0", "0")

	if _, err := e.svc.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: txn.Reference}); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, e.account(t, dest.ID), "300", "300", "0")
}

func TestCancelCompleteRace(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		e := newEngine(t)
		source := e.seedAccount(t, "user-1", "1000")
		dest := e.seedAccount(t, "user-2", "0")
		txn, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, dest.ID, "400"))
		if err != nil {
			t.Fatal(err)
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		var cancelErr, completeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = e.svc.Cancel(ctx, cqrs.CancelTransactionCommand{Reference: txn.Reference, UserID: "user-1"})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, completeErr = e.svc.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: txn.Reference})
		}()
		close(start)
		wg.Wait()

		if (cancelErr == nil) == (completeErr == nil) {
			t.Fatalf("cancel=%v complete=%v, want exactly one winner", cancelErr, completeErr)
		}
		got, _ := e.store.GetTransactionByReference(ctx, txn.Reference)
		if cancelErr == nil {
			if !errors.Is(completeErr, ledgererr.ErrInvalidStateTransition) || got.Status != models.StatusCancelled {
				t.Fatalf("cancel won but complete=%v status=%s", completeErr, got.Status)
			}
			assertBalances(t, e.account(t, source.ID), "1000", "1000", "0")
			assertBalances(t, e.account(t, dest.ID), "0", "0", "0")
		} else {
			if !errors.Is(cancelErr, ledgererr.ErrInvalidStateTransition) || got.Status != models.StatusCompleted {
				t.Fatalf("complete won but cancel=%v status=%s", cancelErr, got.Status)
			}
			assertBalances(t, e.account(t, source.ID), "600", "600", "0")
			assertBalances(t, e.account(t, dest.ID), "400", "400", "0")
		}
		if logs := e.logActions(t, txn); len(logs) != 2 {
			t.Fatalf("logs = %v, want creation plus one terminal row", logs)
		}
	}
}

func TestOTPFlow(t *testing.T) {
	ctx := context.Background()
	now := testNow
	e := newEngine(t, WithClock(func() time.Time { return now }))
	e.profiles.settings = &models.SecuritySettings{RequireOTPForTransactions: true, TransactionThreshold: d("100")}
	source := e.seedAccount(t, "user-1", "1000")
	dest := e.seedAccount(t, "user-2", "0")

	// Below threshold: straight to PROCESSING.
	small, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, dest.ID, "50"))
	if err != nil {
		t.Fatal(err)
	}
	if small.RequiresOTP || small.Status != models.StatusProcessing {
		t.Fatalf("small transfer = %s requiresOTP=%v", small.Status, small.RequiresOTP)
	}

	txn, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, dest.ID, "500"))
	if err != nil {
		t.Fatal(err)
	}
	if !txn.RequiresOTP || txn.Status != models.StatusPending {
		t.Fatalf("large transfer = %s requiresOTP=%v", txn.Status, txn.RequiresOTP)
	}
	if len(e.notifier.otps) != 1 || e.notifier.otps[0] != "123456" {
		t.Fatalf("otps sent = %v", e.notifier.otps)
	}
	// No hold until the code is verified.
	assertBalances(t, e.account(t, source.ID), "1000", "950", "50")

	if _, err := e.svc.Submit(ctx, cqrs.SubmitTransactionCommand{Reference: txn.Reference, UserID: "user-1"}); !errors.Is(err, ledgererr.ErrOtpNotVerified) {
		t.Fatalf("submit before verify: %v", err)
	}

	got, ok, err := e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "000000"})
	if err != nil || ok {
		t.Fatalf("wrong code: ok=%v err=%v", ok, err)
	}
	if got.Status != models.StatusPending || got.OTPVerified {
		t.Fatalf("wrong code changed state: %+v", got)
	}

	got, ok, err = e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "123456"})
	if err != nil || !ok {
		t.Fatalf("right code: ok=%v err=%v", ok, err)
	}
	if got.Status != models.StatusProcessing || !got.OTPVerified {
		t.Fatalf("after verify = %s verified=%v", got.Status, got.OTPVerified)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "450", "550")
	assertActions(t, e.logActions(t, txn), models.ActionOTPRequested, models.ActionOTPVerified, models.ActionCreated)

	if _, _, err := e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "123456"}); !errors.Is(err, ledgererr.ErrInvalidStateTransition) {
		t.Errorf("verify after submit: %v", err)
	}
}

func TestOTPExpires(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := testNow
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	e := newEngine(t, WithClock(clock), WithOTPTTL(time.Minute))
	source := e.seedAccount(t, "user-1", "1000")

	cmd := transfer("user-1", source.ID, "", "10")
	cmd.ForceOTP = true
	txn, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	_, ok, err := e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "123456"})
	if err != nil || ok {
		t.Fatalf("expired code: ok=%v err=%v", ok, err)
	}
	// The user can still walk away from it.
	if _, err := e.svc.Cancel(ctx, cqrs.CancelTransactionCommand{Reference: txn.Reference, UserID: "user-1"}); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
}

func TestOTPLockoutCancelsAfterRepeatedMisses(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")

	cmd := transfer("user-1", source.ID, "", "10")
	cmd.ForceOTP = true
	txn, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < maxOTPAttempts; i++ {
		got, ok, err := e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "000000"})
		if err != nil || ok {
			t.Fatalf("miss %d: ok=%v err=%v", i, ok, err)
		}
		if got.Status != models.StatusPending || got.OTPAttempts != i {
			t.Fatalf("miss %d: status=%s attempts=%d", i, got.Status, got.OTPAttempts)
		}
	}

	got, ok, err := e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "000000"})
	if err != nil || ok {
		t.Fatalf("final miss: ok=%v err=%v", ok, err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("status after %d misses = %s, want CANCELLED", maxOTPAttempts, got.Status)
	}
	if got.Version != maxOTPAttempts {
		t.Errorf("version = %d, want %d", got.Version, maxOTPAttempts)
	}
	assertActions(t, e.logActions(t, txn), models.ActionOTPRequested, models.ActionCancelled)
	assertBalances(t, e.account(t, source.ID), "1000", "1000", "0")

	// The right code no longer helps.
	if _, _, err := e.svc.VerifyOTP(ctx, cqrs.VerifyOTPCommand{Reference: txn.Reference, UserID: "user-1", Code: "123456"}); !errors.Is(err, ledgererr.ErrInvalidStateTransition) {
		t.Fatalf("verify after lockout: %v", err)
	}
	if sent := e.notifier.sent(); len(sent) == 0 || sent[len(sent)-1] != events.TransactionCancelled {
		t.Errorf("notifications = %v", sent)
	}
}

func TestPreAuthorizedSkipsOTP(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.profiles.settings = &models.SecuritySettings{RequireOTPForTransactions: true, TransactionThreshold: decimal.Zero}
	source := e.seedAccount(t, "user-1", "1000")

	cmd := transfer("user-1", source.ID, "", "10")
	cmd.PreAuthorized = true
	txn, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if txn.RequiresOTP || txn.Status != models.StatusProcessing {
		t.Fatalf("pre-authorized = %s requiresOTP=%v", txn.Status, txn.RequiresOTP)
	}
}

func TestIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")
	otherSource := e.seedAccount(t, "user-2", "1000")

	cmd := transfer("user-1", source.ID, "", "100")
	cmd.IdempotencyKey = "key-1"
	first, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if first.Reference != second.Reference {
		t.Fatalf("retry created %s, want %s", second.Reference, first.Reference)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "900", "100")

	// Keys are scoped per user.
	other := transfer("user-2", otherSource.ID, "", "100")
	other.IdempotencyKey = "key-1"
	third, err := e.svc.CreateTransaction(ctx, other)
	if err != nil {
		t.Fatal(err)
	}
	if third.Reference == first.Reference {
		t.Fatal("idempotency key leaked across users")
	}
}

type neverExists struct{}

func (neverExists) ReferenceExists(context.Context, string) (bool, error) { return false, nil }

func TestDuplicateReferenceRegenerated(t *testing.T) {
	ctx := context.Background()
	suffixes := []string{"AAAAAAAA", "BBBBBBBB"}
	var mu sync.Mutex
	next := func(n int) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		s := suffixes[0]
		if len(suffixes) > 1 {
			suffixes = suffixes[1:]
		}
		return s, nil
	}
	gen := reference.NewGenerator(neverExists{},
		reference.WithClock(func() time.Time { return testNow }),
		reference.WithSuffixSource(next))
	e := newEngine(t, WithReferenceGenerator(gen))
	source := e.seedAccount(t, "user-1", "1000")

	taken := "TXN1710496800000AAAAAAAA"
	err := e.store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.InsertTransaction(ctx, &models.Transaction{
			ID:        "taken", Reference: taken, Type: models.TypeTransfer, UserID: "user-9",
			Amount:    d("1"), TotalAmount: d("1"), Currency: "NGN", Status: models.StatusFailed,
			CreatedAt: testNow, UpdatedAt: testNow,
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	txn, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "10"))
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if txn.Reference != "TXN1710496800000BBBBBBBB" {
		t.Fatalf("reference = %s", txn.Reference)
	}
	assertBalances(t, e.account(t, source.ID), "1000", "990", "10")
}

func TestStorageFaultLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")

	e.store.InjectFault(func(op string) error {
		if op == "commit" {
			return fmt.Errorf("%w: connection reset", ledgererr.ErrStorageUnavailable)
		}
		return nil
	})
	_, err := e.svc.CreateTransaction(ctx, transfer("user-1", source.ID, "", "100"))
	if !errors.Is(err, ledgererr.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}
	e.store.InjectFault(nil)

	assertBalances(t, e.account(t, source.ID), "1000", "1000", "0")
	if txns, _ := e.store.ListTransactionsByAccount(ctx, source.ID, 0, 0); len(txns) != 0 {
		t.Fatalf("fault left %d transactions", len(txns))
	}
	if len(e.notifier.sent()) != 0 {
		t.Errorf("notified on a rolled back step: %v", e.notifier.sent())
	}
}

func TestBeneficiaryFillsRecipient(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	source := e.seedAccount(t, "user-1", "1000")
	settings := NewSettingsCommandService(e.store, e.profiles, discardLogger())
	b, err := settings.AddBeneficiary(ctx, cqrs.AddBeneficiaryCommand{
		UserID: "user-1", Name: "Ada Obi", AccountNumber: "0123456789", BankName: "First Bank",
	})
	if err != nil {
		t.Fatal(err)
	}

	cmd := transfer("user-1", source.ID, "", "100")
	cmd.BeneficiaryID = b.ID
	txn, err := e.svc.CreateTransaction(ctx, cmd)
	if err != nil {
		t.Fatal(err)
	}
	if txn.RecipientName != "Ada Obi" || txn.RecipientAccount != "0123456789" || txn.RecipientBank != "First Bank" {
		t.Errorf("recipient = %q %q %q", txn.RecipientName, txn.RecipientAccount, txn.RecipientBank)
	}
	got, _ := e.store.GetBeneficiary(ctx, b.ID)
	if got.UsageCount != 1 || got.LastUsed == nil {
		t.Errorf("beneficiary usage = %d lastUsed=%v", got.UsageCount, got.LastUsed)
	}

	cmd = transfer("user-2", "", "", "100")
	cmd.Type = models.TypeDeposit
	cmd.DestinationAccountID = e.seedAccount(t, "user-2", "0").ID
	cmd.BeneficiaryID = b.ID
	if _, err := e.svc.CreateTransaction(ctx, cmd); !errors.Is(err, ledgererr.ErrForbidden) {
		t.Errorf("foreign beneficiary: %v", err)
	}
}
