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

type BeneficiaryType string

const (
	BeneficiaryInternal BeneficiaryType = "INTERNAL"
	BeneficiaryExternal BeneficiaryType = "EXTERNAL"
)

type Beneficiary struct {
	ID              string          `json:"id"`
	UserID          string          `json:"-"`
	Name            string          `json:"name"`
	AccountNumber   string          `json:"accountNumber"`
	BankName        string          `json:"bankName"`
	BeneficiaryType BeneficiaryType `json:"beneficiaryType"`
	Nickname        string          `json:"nickname,omitempty"`
	IsFavorite      bool            `json:"isFavorite"`
	UsageCount      int             `json:"usageCount"`
	LastUsed        *time.Time      `json:"lastUsed,omitempty"`
	CreatedAt       time.Time       `json:"createdTimestamp"`
}

func NewBeneficiary(userID, name, accountNumber, bankName string, kind BeneficiaryType, nickname string, now time.Time) (*Beneficiary, error) {
	if userID == "" || name == "" || accountNumber == "" {
		return nil, fmt.Errorf("%w: beneficiary needs user, name and account number", ledgererr.ErrInvalidTransaction)
	}
	if kind == "" {
		kind = BeneficiaryExternal
	}
	if kind != BeneficiaryInternal && kind != BeneficiaryExternal {
		return nil, fmt.Errorf("%w: unknown beneficiary type %q", ledgererr.ErrInvalidTransaction, kind)
	}
	if kind == BeneficiaryInternal && !utils.ValidateAccountNumber(accountNumber) {
		return nil, fmt.Errorf("%w: %q is not a SecureBank account number", ledgererr.ErrInvalidTransaction, accountNumber)
	}
	return &Beneficiary{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            name,
		AccountNumber:   accountNumber,
		BankName:        bankName,
		BeneficiaryType: kind,
		Nickname:        nickname,
		CreatedAt:       now,
	}, nil
}

type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
	FrequencyYearly  Frequency = "YEARLY"
)

func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown frequency %q", ledgererr.ErrInvalidTransaction, s)
}

// Next returns the execution time following t.
func (f Frequency) Next(t time.Time) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return t.AddDate(0, 1, 0)
	default:
		return t.AddDate(1, 0, 0)
	}
}

type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "ACTIVE"
	SchedulePaused    ScheduleStatus = "PAUSED"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
	ScheduleCancelled ScheduleStatus = "CANCELLED"
)

// ScheduledTransaction is a recurring transfer executed by the scheduler.
type ScheduledTransaction struct {
	ID                   string          `json:"id"`
	UserID               string          `json:"-"`
	SourceAccountID      string          `json:"sourceAccountId"`
	DestinationAccountID string          `json:"destinationAccountId,omitempty"`
	BeneficiaryName      string          `json:"beneficiaryName,omitempty"`
	BeneficiaryAccount   string          `json:"beneficiaryAccount,omitempty"`
	BeneficiaryBank      string          `json:"beneficiaryBank,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Description          string          `json:"description,omitempty"`
	Frequency            Frequency       `json:"frequency"`
	StartDate            time.Time       `json:"startDate"`
	EndDate              *time.Time      `json:"endDate,omitempty"`
	NextExecution        time.Time       `json:"nextExecution"`
	ExecutionCount       int             `json:"executionCount"`
	MaxExecutions        *int            `json:"maxExecutions,omitempty"`
	Status               ScheduleStatus  `json:"status"`
	CreatedAt            time.Time       `json:"createdTimestamp"`
	UpdatedAt            time.Time       `json:"updatedTimestamp"`
}

// Advance records one execution at now and moves NextExecution forward,
// completing the schedule when it runs past EndDate or MaxExecutions.
func (s *ScheduledTransaction) Advance(now time.Time) {
	s.ExecutionCount++
	s.NextExecution = s.Frequency.Next(s.NextExecution)
	s.UpdatedAt = now
	if s.MaxExecutions != nil && s.ExecutionCount >= *s.MaxExecutions {
		s.Status = ScheduleCompleted
		return
	}
	if s.EndDate != nil && s.NextExecution.After(*s.EndDate) {
		s.Status = ScheduleCompleted
	}
}

// Pause stops a schedule without counting an execution. NextExecution is
// kept so resuming picks up the missed run.
func (s *ScheduledTransaction) Pause(now time.Time) {
	s.Status = SchedulePaused
	s.UpdatedAt = now
}

// Due reports whether the schedule should run at now.
func (s *ScheduledTransaction) Due(now time.Time) bool {
	return s.Status == ScheduleActive && !s.NextExecution.After(now)
}
