package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeTransfer     TransactionType = "TRANSFER"
	TypeDeposit      TransactionType = "DEPOSIT"
	TypeWithdrawal   TransactionType = "WITHDRAWAL"
	TypePayment      TransactionType = "PAYMENT"
	TypeAirtime      TransactionType = "AIRTIME"
	TypeCryptoBuy    TransactionType = "CRYPTO_BUY"
	TypeCryptoSell   TransactionType = "CRYPTO_SELL"
	TypeGiftCardBuy  TransactionType = "GIFTCARD_BUY"
	TypeGiftCardSell TransactionType = "GIFTCARD_SELL"
	TypeSchoolFee    TransactionType = "SCHOOL_FEE"
	TypeElectricBill TransactionType = "ELECTRIC_BILL"
	TypeRefund       TransactionType = "REFUND"
	TypeCharge       TransactionType = "CHARGE"
)

// Direction describes which side of the ledger a transaction type touches.
type Direction int

const (
	DirectionDebit Direction = iota + 1
	DirectionCredit
	DirectionTransfer
)

type LimitCategory string

const (
	CategoryTransfer   LimitCategory = "TRANSFER"
	CategoryWithdrawal LimitCategory = "WITHDRAWAL"
	CategoryCrypto     LimitCategory = "CRYPTO"
)

var transactionTypes = map[TransactionType]struct {
	prefix    string
	direction Direction
	category  LimitCategory
}{
	TypeTransfer:     {"TXN", DirectionTransfer, CategoryTransfer},
	TypeDeposit:      {"TXN", DirectionCredit, ""},
	TypeWithdrawal:   {"TXN", DirectionDebit, CategoryWithdrawal},
	TypePayment:      {"PAY", DirectionDebit, CategoryTransfer},
	TypeAirtime:      {"AIR", DirectionDebit, ""},
	TypeCryptoBuy:    {"CRX", DirectionDebit, CategoryCrypto},
	TypeCryptoSell:   {"CRX", DirectionCredit, CategoryCrypto},
	TypeGiftCardBuy:  {"GFT", DirectionDebit, ""},
	TypeGiftCardSell: {"GFT", DirectionCredit, ""},
	TypeSchoolFee:    {"SCH", DirectionDebit, ""},
	TypeElectricBill: {"BIL", DirectionDebit, ""},
	TypeRefund:       {"REF", DirectionCredit, ""},
	TypeCharge:       {"TXN", DirectionDebit, ""},
}

func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown transaction type %q", ledgererr.ErrInvalidTransaction, s)
	}
	return t, nil
}

func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

// ReferencePrefix is the three-letter domain prefix used for references.
func (t TransactionType) ReferencePrefix() string {
	return transactionTypes[t].prefix
}

func (t TransactionType) Direction() Direction {
	return transactionTypes[t].direction
}

// LimitCategory reports the tier-limit category of t. Types outside the
// transfer, withdrawal and crypto categories carry no tier limit.
func (t TransactionType) LimitCategory() (LimitCategory, bool) {
	c := transactionTypes[t].category
	return c, c != ""
}

// TypesInCategory lists every type aggregated together for a category.
func TypesInCategory(c LimitCategory) []TransactionType {
	var out []TransactionType
	for _, t := range AllTransactionTypes() {
		if tc, ok := t.LimitCategory(); ok && tc == c {
			out = append(out, t)
		}
	}
	return out
}

func AllTransactionTypes() []TransactionType {
	return []TransactionType{
		TypeTransfer, TypeDeposit, TypeWithdrawal, TypePayment, TypeAirtime,
		TypeCryptoBuy, TypeCryptoSell, TypeGiftCardBuy, TypeGiftCardSell,
		TypeSchoolFee, TypeElectricBill, TypeRefund, TypeCharge,
	}
}

type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusCompleted  TransactionStatus = "COMPLETED"
	StatusFailed     TransactionStatus = "FAILED"
	StatusCancelled  TransactionStatus = "CANCELLED"
	StatusReversed   TransactionStatus = "REVERSED"
)

var transitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {StatusReversed},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// RequestMeta is the caller context captured with a transaction and its logs.
type RequestMeta struct {
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
}

type Transaction struct {
	ID                   string            `json:"id"`
	Reference            string            `json:"reference"`
	Type                 TransactionType   `json:"type"`
	UserID               string            `json:"-"`
	SourceAccountID      string            `json:"sourceAccountId,omitempty"`
	DestinationAccountID string            `json:"destinationAccountId,omitempty"`
	Amount               decimal.Decimal   `json:"amount"`
	Currency             string            `json:"currency"`
	Fee                  decimal.Decimal   `json:"fee"`
	Tax                  decimal.Decimal   `json:"tax"`
	TotalAmount          decimal.Decimal   `json:"totalAmount"`
	HeldAmount           decimal.Decimal   `json:"-"`
	Status               TransactionStatus `json:"status"`
	Priority             Priority          `json:"priority"`
	RequiresOTP          bool              `json:"requiresOtp"`
	OTPVerified          bool              `json:"otpVerified"`
	OTPHash              string            `json:"-"`
	OTPExpiresAt         *time.Time        `json:"-"`
	OTPAttempts          int               `json:"-"`
	Description          string            `json:"description,omitempty"`
	Narration            string            `json:"narration,omitempty"`
	RecipientName        string            `json:"recipientName,omitempty"`
	RecipientAccount     string            `json:"recipientAccount,omitempty"`
	RecipientBank        string            `json:"recipientBank,omitempty"`
	BeneficiaryID        string            `json:"beneficiaryId,omitempty"`
	IdempotencyKey       string            `json:"-"`
	Notes                string            `json:"notes,omitempty"`
	Meta                 RequestMeta       `json:"-"`
	CreatedAt            time.Time         `json:"createdTimestamp"`
	ProcessedAt          *time.Time        `json:"processedTimestamp,omitempty"`
	CompletedAt          *time.Time        `json:"completedTimestamp,omitempty"`
	UpdatedAt            time.Time         `json:"updatedTimestamp"`
	Version              int64             `json:"version"`
}

// Touch records a mutation at now. Version grows by one on every saved change.
func (t *Transaction) Touch(now time.Time) {
	t.UpdatedAt = now
	t.Version++
}

type NewTransactionParams struct {
	Type                 TransactionType
	UserID               string
	SourceAccountID      string
	DestinationAccountID string
	Amount               decimal.Decimal
	Fee                  decimal.Decimal
	Tax                  decimal.Decimal
	Currency             string
	Priority             Priority
	Description          string
	Narration            string
	RecipientName        string
	RecipientAccount     string
	RecipientBank        string
	BeneficiaryID        string
	IdempotencyKey       string
	Meta                 RequestMeta
}

var minAmount = decimal.New(1, -2)

// NewTransaction validates p and returns a PENDING transaction with its total
// computed. The reference is assigned by the engine before persistence.
func NewTransaction(p NewTransactionParams, now time.Time) (*Transaction, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", ledgererr.ErrInvalidTransaction, p.Type)
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ledgererr.ErrInvalidTransaction)
	}
	if err := checkAccounts(p.Type, p.SourceAccountID, p.DestinationAccountID); err != nil {
		return nil, err
	}
	if p.Amount.LessThan(minAmount) {
		return nil, fmt.Errorf("%w: amount must be at least %s", ledgererr.ErrInvalidTransaction, minAmount)
	}
	if !p.Amount.Equal(p.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount has more than two decimal places", ledgererr.ErrInvalidTransaction)
	}
	currency := strings.ToUpper(p.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ledgererr.ErrInvalidTransaction)
	}
	priority := p.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", ledgererr.ErrInvalidTransaction, p.Priority)
	}

	txn := &Transaction{
		ID:                   uuid.NewString(),
		Type:                 p.Type,
		UserID:               p.UserID,
		SourceAccountID:      p.SourceAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Amount:               p.Amount,
		Currency:             currency,
		HeldAmount:           decimal.Zero,
		Status:               StatusPending,
		Priority:             priority,
		Description:          p.Description,
		Narration:            p.Narration,
		RecipientName:        p.RecipientName,
		RecipientAccount:     p.RecipientAccount,
		RecipientBank:        p.RecipientBank,
		BeneficiaryID:        p.BeneficiaryID,
		IdempotencyKey:       p.IdempotencyKey,
		Meta:                 p.Meta,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := txn.SetCharges(p.Fee, p.Tax); err != nil {
		return nil, err
	}
	return txn, nil
}

func checkAccounts(t TransactionType, source, destination string) error {
	switch t.Direction() {
	case DirectionDebit:
		if source == "" {
			return fmt.Errorf("%w: %s requires a source account", ledgererr.ErrInvalidTransaction, t)
		}
		if destination != "" {
			return fmt.Errorf("%w: %s does not take a destination account", ledgererr.ErrInvalidTransaction, t)
		}
	case DirectionCredit:
		if destination == "" {
			return fmt.Errorf("%w: %s requires a destination account", ledgererr.ErrInvalidTransaction, t)
		}
		if source != "" {
			return fmt.Errorf("%w: %s does not take a source account", ledgererr.ErrInvalidTransaction, t)
		}
	case DirectionTransfer:
		if source == "" {
			return fmt.Errorf("%w: %s requires a source account", ledgererr.ErrInvalidTransaction, t)
		}
		if source == destination {
			return fmt.Errorf("%w: source and destination must differ", ledgererr.ErrInvalidTransaction)
		}
	}
	return nil
}

// SetCharges replaces fee and tax and recomputes TotalAmount.
func (t *Transaction) SetCharges(fee, tax decimal.Decimal) error {
	if fee.IsNegative() || tax.IsNegative() {
		return fmt.Errorf("%w: fee and tax cannot be negative", ledgererr.ErrInvalidTransaction)
	}
	t.Fee = fee
	t.Tax = tax
	t.TotalAmount = t.Amount.Add(fee).Add(tax)
	return nil
}

// Charges is the fee and tax portion of the total.
func (t *Transaction) Charges() decimal.Decimal {
	return t.Fee.Add(t.Tax)
}

// AccountIDs lists the ledger accounts the transaction touches, without
// duplicates and in no particular order.
func (t *Transaction) AccountIDs() []string {
	var ids []string
	if t.SourceAccountID != "" {
		ids = append(ids, t.SourceAccountID)
	}
	if t.DestinationAccountID != "" {
		ids = append(ids, t.DestinationAccountID)
	}
	return ids
}

// AppendNote keeps earlier notes, one per line.
func (t *Transaction) AppendNote(note string) {
	if note == "" {
		return
	}
	if t.Notes == "" {
		t.Notes = note
		return
	}
	t.Notes += "\n" + note
}

type LogAction string

const (
	ActionCreated      LogAction = "CREATED"
	ActionUpdated      LogAction = "UPDATED"
	ActionCancelled    LogAction = "CANCELLED"
	ActionCompleted    LogAction = "COMPLETED"
	ActionFailed       LogAction = "FAILED"
	ActionReversed     LogAction = "REVERSED"
	ActionOTPRequested LogAction = "OTP_REQUESTED"
	ActionOTPVerified  LogAction = "OTP_VERIFIED"
)

// TransactionLog is an append-only audit row.
type TransactionLog struct {
	ID            string            `json:"id"`
	TransactionID string            `json:"transactionId"`
	Reference     string            `json:"reference"`
	Action        LogAction         `json:"action"`
	OldStatus     TransactionStatus `json:"oldStatus,omitempty"`
	NewStatus     TransactionStatus `json:"newStatus,omitempty"`
	Details       string            `json:"details,omitempty"`
	IPAddress     string            `json:"ipAddress,omitempty"`
	UserAgent     string            `json:"userAgent,omitempty"`
	CreatedAt     time.Time         `json:"createdTimestamp"`
}
