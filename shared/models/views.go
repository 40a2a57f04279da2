package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionView is the read-optimised projection of a transaction.
// UserID is populated for ownership checks but never serialised to the API response.
type TransactionView struct {
	ID                   string            `json:"id"`
	Reference            string            `json:"reference"`
	Type                 TransactionType   `json:"type"`
	UserID               string            `json:"-"`
	SourceAccountID      string            `json:"sourceAccountId,omitempty"`
	DestinationAccountID string            `json:"destinationAccountId,omitempty"`
	Amount               decimal.Decimal   `json:"amount"`
	Fee                  decimal.Decimal   `json:"fee"`
	Tax                  decimal.Decimal   `json:"tax"`
	TotalAmount          decimal.Decimal   `json:"totalAmount"`
	Currency             string            `json:"currency"`
	Status               TransactionStatus `json:"status"`
	RequiresOTP          bool              `json:"requiresOtp"`
	OTPVerified          bool              `json:"otpVerified"`
	Description          string            `json:"description,omitempty"`
	RecipientName        string            `json:"recipientName,omitempty"`
	Notes                string            `json:"notes,omitempty"`
	CreatedAt            time.Time         `json:"createdTimestamp"`
	CompletedAt          *time.Time        `json:"completedTimestamp,omitempty"`
	UpdatedAt            time.Time         `json:"updatedTimestamp"`
	Version              int64             `json:"version"`
}

// View projects t into its read model.
func (t *Transaction) View() *TransactionView {
	return &TransactionView{
		ID:                   t.ID,
		Reference:            t.Reference,
		Type:                 t.Type,
		UserID:               t.UserID,
		SourceAccountID:      t.SourceAccountID,
		DestinationAccountID: t.DestinationAccountID,
		Amount:               t.Amount,
		Fee:                  t.Fee,
		Tax:                  t.Tax,
		TotalAmount:          t.TotalAmount,
		Currency:             t.Currency,
		Status:               t.Status,
		RequiresOTP:          t.RequiresOTP,
		OTPVerified:          t.OTPVerified,
		Description:          t.Description,
		RecipientName:        t.RecipientName,
		Notes:                t.Notes,
		CreatedAt:            t.CreatedAt,
		CompletedAt:          t.CompletedAt,
		UpdatedAt:            t.UpdatedAt,
		Version:              t.Version,
	}
}

// AccountView is the read-optimised projection of an account.
// UserID is populated for ownership checks but never serialised to the API response.
type AccountView struct {
	ID               string          `json:"id"`
	AccountNumber    string          `json:"accountNumber"`
	UserID           string          `json:"-"`
	AccountName      string          `json:"accountName"`
	AccountType      AccountType     `json:"accountType"`
	Currency         string          `json:"currency"`
	Balance          decimal.Decimal `json:"balance"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	FrozenBalance    decimal.Decimal `json:"frozenBalance"`
	Status           AccountStatus   `json:"status"`
	CreatedAt        time.Time       `json:"createdTimestamp"`
	UpdatedAt        time.Time       `json:"updatedTimestamp"`
}

func (a *Account) View() *AccountView {
	return &AccountView{
		ID:               a.ID,
		AccountNumber:    a.AccountNumber,
		UserID:           a.UserID,
		AccountName:      a.AccountName,
		AccountType:      a.AccountType,
		Currency:         a.Currency,
		Balance:          a.Balance,
		AvailableBalance: a.AvailableBalance,
		FrozenBalance:    a.FrozenBalance,
		Status:           a.Status,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}
