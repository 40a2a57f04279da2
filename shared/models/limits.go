package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierBasic    Tier = "BASIC"
	TierStandard Tier = "STANDARD"
	TierPremium  Tier = "PREMIUM"
	TierBusiness Tier = "BUSINESS"
)

var tierMultipliers = map[Tier]int64{
	TierBasic:    1,
	TierStandard: 2,
	TierPremium:  5,
	TierBusiness: 10,
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := tierMultipliers[t]; !ok {
		return "", fmt.Errorf("%w: unknown tier %q", ledgererr.ErrInvalidTransaction, s)
	}
	return t, nil
}

// Ceilings are the single, daily and monthly limits for one category.
type Ceilings struct {
	Single  decimal.Decimal `json:"single"`
	Daily   decimal.Decimal `json:"daily"`
	Monthly decimal.Decimal `json:"monthly"`
}

func (c Ceilings) scale(n int64) Ceilings {
	m := decimal.NewFromInt(n)
	return Ceilings{Single: c.Single.Mul(m), Daily: c.Daily.Mul(m), Monthly: c.Monthly.Mul(m)}
}

var basicCeilings = map[LimitCategory]Ceilings{
	CategoryTransfer: {
		Single:  decimal.NewFromInt(50000),
		Daily:   decimal.NewFromInt(100000),
		Monthly: decimal.NewFromInt(2000000),
	},
	CategoryWithdrawal: {
		Single:  decimal.NewFromInt(20000),
		Daily:   decimal.NewFromInt(50000),
		Monthly: decimal.NewFromInt(1000000),
	},
	CategoryCrypto: {
		Single:  decimal.NewFromInt(100000),
		Daily:   decimal.NewFromInt(200000),
		Monthly: decimal.NewFromInt(4000000),
	},
}

// TransactionLimit holds a user's tiered ceilings per category.
type TransactionLimit struct {
	UserID     string                     `json:"userId"`
	Tier       Tier                       `json:"tier"`
	Categories map[LimitCategory]Ceilings `json:"categories"`
	UpdatedAt  time.Time                  `json:"updatedTimestamp"`
}

// DefaultTransactionLimit returns the ceilings of tier, scaled from BASIC.
func DefaultTransactionLimit(userID string, tier Tier) *TransactionLimit {
	n, ok := tierMultipliers[tier]
	if !ok {
		tier, n = TierBasic, 1
	}
	cats := make(map[LimitCategory]Ceilings, len(basicCeilings))
	for c, ceil := range basicCeilings {
		cats[c] = ceil.scale(n)
	}
	return &TransactionLimit{UserID: userID, Tier: tier, Categories: cats}
}

// For returns the ceilings for c. The second value is false when c has no
// tier limit.
func (l *TransactionLimit) For(c LimitCategory) (Ceilings, bool) {
	ceil, ok := l.Categories[c]
	return ceil, ok
}

var DefaultTransactionThreshold = decimal.NewFromInt(10000)

// SecuritySettings decides when a debit needs a one-time code.
type SecuritySettings struct {
	UserID                    string          `json:"userId"`
	RequireOTPForTransactions bool            `json:"requireOtpForTransactions"`
	TransactionThreshold      decimal.Decimal `json:"transactionThreshold"`
	UpdatedAt                 time.Time       `json:"updatedTimestamp"`
}

func DefaultSecuritySettings(userID string) *SecuritySettings {
	return &SecuritySettings{
		UserID:                    userID,
		RequireOTPForTransactions: true,
		TransactionThreshold:      DefaultTransactionThreshold,
	}
}

// RequiresOTP reports whether t needs a one-time code under s.
func (s *SecuritySettings) RequiresOTP(t *Transaction) bool {
	if !s.RequireOTPForTransactions || t.SourceAccountID == "" {
		return false
	}
	return t.Amount.GreaterThanOrEqual(s.TransactionThreshold)
}
