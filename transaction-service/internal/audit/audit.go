// Package audit builds transaction log rows and mirrors them to an external
// append-only sink once the store transaction that wrote them has committed.
package audit

import (
	"context"
	"time"

	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/google/uuid"
)

// NewEntry records one action on txn. old and next are equal for actions that
// do not move the status.
func NewEntry(txn *models.Transaction, action models.LogAction, old, next models.TransactionStatus, details string, meta models.RequestMeta, now time.Time) *models.TransactionLog {
	return &models.TransactionLog{
		ID:            uuid.NewString(),
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Action:        action,
		OldStatus:     old,
		NewStatus:     next,
		Details:       details,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
		CreatedAt:     now,
	}
}

type Sink interface {
	Append(ctx context.Context, entry *models.TransactionLog) error
}

type Publisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// StreamSink appends entries to the transaction.audit stream.
type StreamSink struct {
	publisher Publisher
}

func NewStreamSink(publisher Publisher) *StreamSink {
	return &StreamSink{publisher: publisher}
}

func (s *StreamSink) Append(ctx context.Context, entry *models.TransactionLog) error {
	return s.publisher.Publish(ctx, events.AuditStream, events.AuditLogAppended, events.AuditLogEvent{
		LogID:         entry.ID,
		TransactionID: entry.TransactionID,
		Reference:     entry.Reference,
		Action:        string(entry.Action),
		OldStatus:     string(entry.OldStatus),
		NewStatus:     string(entry.NewStatus),
		Details:       entry.Details,
		IPAddress:     entry.IPAddress,
		CreatedAt:     entry.CreatedAt,
	})
}

// NopSink discards entries; the store's transaction_logs table stays the
// record of truth.
type NopSink struct{}

func (NopSink) Append(context.Context, *models.TransactionLog) error { return nil }
