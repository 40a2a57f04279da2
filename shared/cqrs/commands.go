package cqrs

import (
	"time"

	"github.com/Br41n7/Securebank/shared/models"
	"github.com/shopspring/decimal"
)

// ---------- Transaction commands ----------

// CreateTransactionCommand asks the engine for a new transaction. Total is
// never supplied; it is derived from Amount, Fee and Tax.
type CreateTransactionCommand struct {
	UserID               string
	Type                 models.TransactionType
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	Tax                  decimal.Decimal
	Currency             string
	Priority             models.Priority
	Description          string
	Narration            string
	RecipientName        string
	RecipientAccount     string
	RecipientBank        string
	BeneficiaryID        string
	IdempotencyKey       string
	ForceOTP             bool
	// PreAuthorized skips the OTP step for transactions the user approved
	// ahead of time, such as scheduled transfers.
	PreAuthorized bool
	Meta          models.RequestMeta
}

type VerifyOTPCommand struct {
	Reference string
	UserID    string
	Code      string
	Meta      models.RequestMeta
}

// The commands below act on an existing transaction. An empty UserID means
// the caller is the system (gateway callbacks, workers) and skips the
// ownership check.

type SubmitTransactionCommand struct {
	Reference string
	UserID    string
	Meta      models.RequestMeta
}

type CompleteTransactionCommand struct {
	Reference string
	Meta      models.RequestMeta
}

type FailTransactionCommand struct {
	Reference string
	Reason    string
	Meta      models.RequestMeta
}

type CancelTransactionCommand struct {
	Reference string
	UserID    string
	Reason    string
	Meta      models.RequestMeta
}

type ReverseTransactionCommand struct {
	Reference string
	Reason    string
	Meta      models.RequestMeta
}

// ---------- Account commands ----------

type OpenAccountCommand struct {
	UserID      string
	Name        string
	AccountType models.AccountType
	Currency    string
}

type SetAccountStatusCommand struct {
	AccountID string
	Status    models.AccountStatus
}

// ---------- Limit and profile commands ----------

type SetTierCommand struct {
	UserID string
	Tier   models.Tier
}

// UpdateSecuritySettingsCommand changes only the fields that are non-nil.
type UpdateSecuritySettingsCommand struct {
	UserID                    string
	RequireOTPForTransactions *bool
	TransactionThreshold      *decimal.Decimal
}

type AddBeneficiaryCommand struct {
	UserID          string
	Name            string
	AccountNumber   string
	BankName        string
	BeneficiaryType models.BeneficiaryType
	Nickname        string
}

type CreateScheduleCommand struct {
	UserID               string
	SourceAccountID      string
	DestinationAccountID string
	BeneficiaryName      string
	BeneficiaryAccount   string
	BeneficiaryBank      string
	Amount               decimal.Decimal
	Description          string
	Frequency            models.Frequency
	StartDate            time.Time
	EndDate              *time.Time
	MaxExecutions        *int
}
