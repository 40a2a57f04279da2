package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/telemetry"
)

type TransactionSettler interface {
	Complete(ctx context.Context, cmd cqrs.CompleteTransactionCommand) (*models.Transaction, error)
	Fail(ctx context.Context, cmd cqrs.FailTransactionCommand) (*models.Transaction, error)
}

// GatewayHandler settles PROCESSING transactions from payment gateway
// results published on events.GatewayResultsStream.
type GatewayHandler struct {
	engine TransactionSettler
	logger *slog.Logger
}

func NewGatewayHandler(engine TransactionSettler, logger *slog.Logger) *GatewayHandler {
	return &GatewayHandler{engine: engine, logger: logger.With("worker", "gateway")}
}

// Handle is an events.Handler. A returned error leaves the message unacked
// for redelivery, so results that can never apply are acked instead.
func (h *GatewayHandler) Handle(ctx context.Context, event events.Event) error {
	var result events.GatewayResultEvent
	if err := event.DecodeData(&result); err != nil {
		h.logger.ErrorContext(ctx, "dropping malformed gateway result", "type", event.Type, "error", err)
		telemetry.RecordWorkerItem("gateway", "malformed")
		return nil
	}
	if result.Reference == "" {
		h.logger.ErrorContext(ctx, "dropping gateway result without reference", "type", event.Type)
		telemetry.RecordWorkerItem("gateway", "malformed")
		return nil
	}

	var err error
	switch event.Type {
	case events.GatewayPaymentSucceeded:
		_, err = h.engine.Complete(ctx, cqrs.CompleteTransactionCommand{Reference: result.Reference})
	case events.GatewayPaymentFailed:
		reason := result.Reason
		if reason == "" {
			reason = "declined by gateway"
		}
		_, err = h.engine.Fail(ctx, cqrs.FailTransactionCommand{Reference: result.Reference, Reason: reason})
	default:
		telemetry.RecordWorkerItem("gateway", "ignored")
		return nil
	}

	switch {
	case err == nil:
		telemetry.RecordWorkerItem("gateway", "settled")
		h.logger.InfoContext(ctx, "gateway result applied", "reference", result.Reference, "type", event.Type, "provider_ref", result.ProviderRef)
		return nil
	case errors.Is(err, ledgererr.ErrInvalidStateTransition), errors.Is(err, ledgererr.ErrNotFound):
		telemetry.RecordWorkerItem("gateway", "stale")
		h.logger.WarnContext(ctx, "gateway result does not apply", "reference", result.Reference, "type", event.Type, "error", err)
		return nil
	default:
		telemetry.RecordWorkerItem("gateway", "error")
		return fmt.Errorf("apply %s for %s: %w", event.Type, result.Reference, err)
	}
}
