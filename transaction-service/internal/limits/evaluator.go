// Package limits enforces tiered single, daily and monthly ceilings. Day and
// month windows are calendar periods in the evaluator's location.
package limits

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/shopspring/decimal"
)

// Aggregator sums counted transactions. Inside a store transaction it must
// run after the user window lock so the totals cannot move underneath a check.
type Aggregator interface {
	SumUserAmounts(ctx context.Context, userID string, types []models.TransactionType, from, to time.Time) (decimal.Decimal, error)
	SumAccountOutgoing(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error)
}

type Evaluator struct {
	loc *time.Location
}

func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{loc: loc}
}

// Window is a half-open [From, To) period.
type Window struct {
	From time.Time
	To   time.Time
}

func (e *Evaluator) Day(now time.Time) Window {
	n := now.In(e.loc)
	from := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, e.loc)
	return Window{From: from, To: from.AddDate(0, 0, 1)}
}

func (e *Evaluator) Month(now time.Time) Window {
	n := now.In(e.loc)
	from := time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, e.loc)
	return Window{From: from, To: from.AddDate(0, 1, 0)}
}

func exceeded(period string, c models.LimitCategory, ceiling, used, amount decimal.Decimal) error {
	return fmt.Errorf("%w: %s %s limit of %s (used %s, requested %s)",
		ledgererr.ErrLimitExceeded, period, strings.ToLower(string(c)), ceiling.StringFixed(2),
		used.StringFixed(2), amount.StringFixed(2))
}

// Check rejects amount when it would push the user past the single, daily or
// monthly ceiling of t's category. Types without a category always pass.
func (e *Evaluator) Check(ctx context.Context, agg Aggregator, limit *models.TransactionLimit, userID string, t models.TransactionType, amount decimal.Decimal, now time.Time) error {
	c, ok := t.LimitCategory()
	if !ok {
		return nil
	}
	ceil, ok := limit.For(c)
	if !ok {
		return nil
	}
	if amount.GreaterThan(ceil.Single) {
		return exceeded("single", c, ceil.Single, decimal.Zero, amount)
	}

	types := models.TypesInCategory(c)
	day := e.Day(now)
	daily, err := agg.SumUserAmounts(ctx, userID, types, day.From, day.To)
	if err != nil {
		return err
	}
	if daily.Add(amount).GreaterThan(ceil.Daily) {
		return exceeded("daily", c, ceil.Daily, daily, amount)
	}

	month := e.Month(now)
	monthly, err := agg.SumUserAmounts(ctx, userID, types, month.From, month.To)
	if err != nil {
		return err
	}
	if monthly.Add(amount).GreaterThan(ceil.Monthly) {
		return exceeded("monthly", c, ceil.Monthly, monthly, amount)
	}
	return nil
}

// CheckAccountDaily enforces the account's own daily outgoing cap.
func (e *Evaluator) CheckAccountDaily(ctx context.Context, agg Aggregator, account *models.Account, amount decimal.Decimal, now time.Time) error {
	day := e.Day(now)
	used, err := agg.SumAccountOutgoing(ctx, account.ID, day.From, day.To)
	if err != nil {
		return err
	}
	if used.Add(amount).GreaterThan(account.DailyLimit) {
		return fmt.Errorf("%w: account %s daily limit of %s (used %s, requested %s)",
			ledgererr.ErrLimitExceeded, account.AccountNumber, account.DailyLimit.StringFixed(2),
			used.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}

type CategoryUsage struct {
	Category         models.LimitCategory `json:"category"`
	Ceilings         models.Ceilings      `json:"limits"`
	UsedToday        decimal.Decimal      `json:"usedToday"`
	UsedThisMonth    decimal.Decimal      `json:"usedThisMonth"`
	RemainingToday   decimal.Decimal      `json:"remainingToday"`
	RemainingInMonth decimal.Decimal      `json:"remainingThisMonth"`
}

// Usage reports consumption against every category of limit.
func (e *Evaluator) Usage(ctx context.Context, agg Aggregator, limit *models.TransactionLimit, now time.Time) ([]CategoryUsage, error) {
	day, month := e.Day(now), e.Month(now)
	categories := []models.LimitCategory{models.CategoryTransfer, models.CategoryWithdrawal, models.CategoryCrypto}

	out := make([]CategoryUsage, 0, len(categories))
	for _, c := range categories {
		ceil, ok := limit.For(c)
		if !ok {
			continue
		}
		types := models.TypesInCategory(c)
		daily, err := agg.SumUserAmounts(ctx, limit.UserID, types, day.From, day.To)
		if err != nil {
			return nil, err
		}
		monthly, err := agg.SumUserAmounts(ctx, limit.UserID, types, month.From, month.To)
		if err != nil {
			return nil, err
		}
		out = append(out, CategoryUsage{
			Category:         c,
			Ceilings:         ceil,
			UsedToday:        daily,
			UsedThisMonth:    monthly,
			RemainingToday:   decimal.Max(decimal.Zero, ceil.Daily.Sub(daily)),
			RemainingInMonth: decimal.Max(decimal.Zero, ceil.Monthly.Sub(monthly)),
		})
	}
	return out, nil
}
