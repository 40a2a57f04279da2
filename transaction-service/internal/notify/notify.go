// Package notify hands transaction events to the external notification
// service. Delivery (email, SMS) happens on the other side of the broker.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/models"
)

type Notifier interface {
	Notify(ctx context.Context, userID, event string, txn *models.Transaction) error
	SendOTP(ctx context.Context, txn *models.Transaction, code string, expiresAt time.Time) error
}

type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// StreamNotifier publishes onto the transaction.events Redis stream.
type StreamNotifier struct {
	publisher Publisher
}

func NewStreamNotifier(publisher Publisher) *StreamNotifier {
	return &StreamNotifier{publisher: publisher}
}

func (n *StreamNotifier) Notify(ctx context.Context, userID, event string, txn *models.Transaction) error {
	return n.publisher.Publish(ctx, events.TransactionEventsStream, event, transactionEvent(userID, txn))
}

func (n *StreamNotifier) SendOTP(ctx context.Context, txn *models.Transaction, code string, expiresAt time.Time) error {
	return n.publisher.Publish(ctx, events.TransactionEventsStream, events.OTPRequested, events.OTPRequestedEvent{
		Reference: txn.Reference,
		UserID:    txn.UserID,
		Code:      code,
		ExpiresAt: expiresAt,
	})
}

func transactionEvent(userID string, txn *models.Transaction) events.TransactionEvent {
	return events.TransactionEvent{
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		UserID:        userID,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Amount:        txn.Amount,
		TotalAmount:   txn.TotalAmount,
		Currency:      txn.Currency,
		Reason:        lastNote(txn.Notes),
	}
}

func lastNote(notes string) string {
	if i := strings.LastIndexByte(notes, '\n'); i >= 0 {
		return notes[i+1:]
	}
	return notes
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, string, *models.Transaction) error { return nil }

func (Nop) SendOTP(context.Context, *models.Transaction, string, time.Time) error { return nil }
