package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountFrozen    AccountStatus = "FROZEN"
	AccountClosed    AccountStatus = "CLOSED"
	AccountSuspended AccountStatus = "SUSPENDED"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountFrozen, AccountClosed, AccountSuspended:
		return true
	}
	return false
}

type AccountType string

const (
	AccountSavings      AccountType = "SAVINGS"
	AccountCurrent      AccountType = "CURRENT"
	AccountFixedDeposit AccountType = "FIXED_DEPOSIT"
	AccountCrypto       AccountType = "CRYPTO"
	AccountBusiness     AccountType = "BUSINESS"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountSavings, AccountCurrent, AccountFixedDeposit, AccountCrypto, AccountBusiness:
		return true
	}
	return false
}

const DefaultCurrency = "NGN"

var (
	DefaultAccountDailyLimit      = decimal.NewFromInt(500000)
	DefaultSingleTransactionLimit = decimal.NewFromInt(100000)
)

// Account is the ledger's source of truth for funds.
// Balance always equals AvailableBalance + FrozenBalance.
type Account struct {
	ID                     string          `json:"id"`
	UserID                 string          `json:"-"`
	AccountNumber          string          `json:"accountNumber"`
	AccountName            string          `json:"accountName"`
	AccountType            AccountType     `json:"accountType"`
	Currency               string          `json:"currency"`
	Balance                decimal.Decimal `json:"balance"`
	AvailableBalance       decimal.Decimal `json:"availableBalance"`
	FrozenBalance          decimal.Decimal `json:"frozenBalance"`
	Status                 AccountStatus   `json:"status"`
	DailyLimit             decimal.Decimal `json:"dailyLimit"`
	SingleTransactionLimit decimal.Decimal `json:"singleTransactionLimit"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"createdTimestamp"`
	UpdatedAt              time.Time       `json:"updatedTimestamp"`
}

// NewAccount opens an empty ACTIVE account. Funds only ever arrive through
// ledger postings.
func NewAccount(userID, name string, accountType AccountType, currency string, now time.Time) (*Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ledgererr.ErrInvalidTransaction)
	}
	if !accountType.Valid() {
		return nil, fmt.Errorf("%w: unknown account type %q", ledgererr.ErrInvalidTransaction, accountType)
	}
	if currency == "" {
		currency = DefaultCurrency
	}
	currency = strings.ToUpper(currency)
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ledgererr.ErrInvalidTransaction)
	}
	return &Account{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		AccountNumber:          utils.GenerateAccountNumber(),
		AccountName:            name,
		AccountType:            accountType,
		Currency:               currency,
		Balance:                decimal.Zero,
		AvailableBalance:       decimal.Zero,
		FrozenBalance:          decimal.Zero,
		Status:                 AccountActive,
		DailyLimit:             DefaultAccountDailyLimit,
		SingleTransactionLimit: DefaultSingleTransactionLimit,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

func (a *Account) IsActive() bool {
	return a.Status == AccountActive
}

// CheckInvariant verifies the balance identity and sign constraints.
func (a *Account) CheckInvariant() error {
	if !a.Balance.Equal(a.AvailableBalance.Add(a.FrozenBalance)) {
		return fmt.Errorf("%w: account %s balance %s != available %s + frozen %s",
			ledgererr.ErrInvariantViolation, a.ID, a.Balance, a.AvailableBalance, a.FrozenBalance)
	}
	if a.AvailableBalance.IsNegative() {
		return fmt.Errorf("%w: account %s available balance %s is negative",
			ledgererr.ErrInvariantViolation, a.ID, a.AvailableBalance)
	}
	if a.FrozenBalance.IsNegative() {
		return fmt.Errorf("%w: account %s frozen balance %s is negative",
			ledgererr.ErrInvariantViolation, a.ID, a.FrozenBalance)
	}
	return nil
}

// CanTransitionTo guards administrative status changes. CLOSED is terminal.
func (a *Account) CanTransitionTo(next AccountStatus) bool {
	if !next.Valid() || a.Status == AccountClosed || a.Status == next {
		return false
	}
	if next == AccountClosed {
		return a.Balance.IsZero()
	}
	return true
}
