package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	OTPRequested         = "otp.requested"
	TransactionSubmitted = "transaction.submitted"
	TransactionCompleted = "transaction.completed"
	TransactionFailed    = "transaction.failed"
	TransactionCancelled = "transaction.cancelled"
	TransactionReversed  = "transaction.reversed"

	AccountOpened        = "account.opened"
	AccountStatusChanged = "account.status_changed"

	AuditLogAppended = "audit.log_appended"

	GatewayPaymentSucceeded = "gateway.payment.succeeded"
	GatewayPaymentFailed    = "gateway.payment.failed"
)

// Stream names
const (
	TransactionEventsStream = "transaction.events"
	AccountEventsStream     = "account.events"
	AuditStream             = "transaction.audit"
	GatewayResultsStream    = "gateway.results"
)

// Base event structure
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// DecodeData re-decodes the loosely typed Data field into out.
func (e Event) DecodeData(out any) error {
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// Transaction events
type TransactionEvent struct {
	TransactionID string          `json:"transactionId"`
	Reference     string          `json:"reference"`
	UserID        string          `json:"userId"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason,omitempty"`
}

// OTPRequestedEvent is consumed by the notification service, which owns delivery.
type OTPRequestedEvent struct {
	Reference string    `json:"reference"`
	UserID    string    `json:"userId"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Account events
type AccountOpenedEvent struct {
	AccountID     string `json:"accountId"`
	AccountNumber string `json:"accountNumber"`
	UserID        string `json:"userId"`
	AccountType   string `json:"accountType"`
	Currency      string `json:"currency"`
}

type AccountStatusChangedEvent struct {
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
	OldStatus string `json:"oldStatus"`
	NewStatus string `json:"newStatus"`
}

// Audit events
type AuditLogEvent struct {
	LogID         string    `json:"logId"`
	TransactionID string    `json:"transactionId"`
	Reference     string    `json:"reference"`
	Action        string    `json:"action"`
	OldStatus     string    `json:"oldStatus,omitempty"`
	NewStatus     string    `json:"newStatus,omitempty"`
	Details       string    `json:"details,omitempty"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	CreatedAt     time.Time `json:"createdTimestamp"`
}

// Gateway events
type GatewayResultEvent struct {
	Reference   string `json:"reference"`
	ProviderRef string `json:"providerRef,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
