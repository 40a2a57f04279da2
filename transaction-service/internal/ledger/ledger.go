// Package ledger moves funds between the available and frozen balances of
// an account. Callers run every operation inside a store transaction that
// already holds the account lock.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/shopspring/decimal"
)

// AccountStore is the slice of a store transaction the ledger writes through.
type AccountStore interface {
	LockAccount(ctx context.Context, accountID string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
}

// Hold is funds moved from available into frozen, pending Commit or Release.
type Hold struct {
	AccountID string
	Amount    decimal.Decimal
}

func (h Hold) IsZero() bool {
	return h.AccountID == "" || h.Amount.IsZero()
}

type Ledger struct {
	now func() time.Time
}

func New(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: ledger amount must be positive, got %s", ledgererr.ErrInvalidTransaction, amount)
	}
	return nil
}

// Reserve places a hold of amount on accountID.
func (l *Ledger) Reserve(ctx context.Context, s AccountStore, accountID string, amount decimal.Decimal) (Hold, error) {
	if err := positive(amount); err != nil {
		return Hold{}, err
	}
	a, err := s.LockAccount(ctx, accountID)
	if err != nil {
		return Hold{}, err
	}
	if !a.IsActive() {
		return Hold{}, fmt.Errorf("%w: account %s is %s", ledgererr.ErrAccountNotActive, a.ID, a.Status)
	}
	if amount.GreaterThan(a.SingleTransactionLimit) {
		return Hold{}, fmt.Errorf("%w: %s exceeds the account's single transaction limit of %s",
			ledgererr.ErrInsufficientFunds, amount, a.SingleTransactionLimit)
	}
	if amount.GreaterThan(a.AvailableBalance) {
		return Hold{}, fmt.Errorf("%w: available %s, requested %s", ledgererr.ErrInsufficientFunds, a.AvailableBalance, amount)
	}

	a.AvailableBalance = a.AvailableBalance.Sub(amount)
	a.FrozenBalance = a.FrozenBalance.Add(amount)
	if err := l.apply(ctx, s, a); err != nil {
		return Hold{}, err
	}
	return Hold{AccountID: accountID, Amount: amount}, nil
}

// Commit debits a hold: the amount leaves both balance and frozen balance.
func (l *Ledger) Commit(ctx context.Context, s AccountStore, h Hold) error {
	a, err := l.lockHeld(ctx, s, h)
	if err != nil {
		return err
	}
	a.Balance = a.Balance.Sub(h.Amount)
	a.FrozenBalance = a.FrozenBalance.Sub(h.Amount)
	return l.apply(ctx, s, a)
}

// Release returns a hold to the available balance. Balance is untouched.
func (l *Ledger) Release(ctx context.Context, s AccountStore, h Hold) error {
	a, err := l.lockHeld(ctx, s, h)
	if err != nil {
		return err
	}
	a.FrozenBalance = a.FrozenBalance.Sub(h.Amount)
	a.AvailableBalance = a.AvailableBalance.Add(h.Amount)
	return l.apply(ctx, s, a)
}

func (l *Ledger) lockHeld(ctx context.Context, s AccountStore, h Hold) (*models.Account, error) {
	if err := positive(h.Amount); err != nil {
		return nil, err
	}
	a, err := s.LockAccount(ctx, h.AccountID)
	if err != nil {
		return nil, err
	}
	if a.FrozenBalance.LessThan(h.Amount) {
		return nil, fmt.Errorf("%w: account %s holds %s, hold is %s",
			ledgererr.ErrInvariantViolation, a.ID, a.FrozenBalance, h.Amount)
	}
	return a, nil
}

// Post applies a signed delta directly to balance and available balance.
// Debits fail with InsufficientFunds rather than overdraw.
func (l *Ledger) Post(ctx context.Context, s AccountStore, accountID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	a, err := s.LockAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !a.IsActive() {
		return fmt.Errorf("%w: account %s is %s", ledgererr.ErrAccountNotActive, a.ID, a.Status)
	}
	if delta.IsNegative() && a.AvailableBalance.LessThan(delta.Neg()) {
		return fmt.Errorf("%w: available %s, debit %s", ledgererr.ErrInsufficientFunds, a.AvailableBalance, delta.Neg())
	}
	a.Balance = a.Balance.Add(delta)
	a.AvailableBalance = a.AvailableBalance.Add(delta)
	return l.apply(ctx, s, a)
}

func (l *Ledger) apply(ctx context.Context, s AccountStore, a *models.Account) error {
	if err := a.CheckInvariant(); err != nil {
		return err
	}
	a.Version++
	a.UpdatedAt = l.now()
	return s.SaveAccount(ctx, a)
}
