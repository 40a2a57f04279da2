package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
)

const openAccountAttempts = 3

type EventPublisher interface {
	Publish(ctx context.Context, stream, eventType string, data any) error
}

// AccountCommandService opens accounts and changes their administrative
// status. Balances only move through the transaction engine.
type AccountCommandService struct {
	store     repository.Store
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewAccountCommandService(store repository.Store, publisher EventPublisher, logger *slog.Logger) *AccountCommandService {
	return &AccountCommandService{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccountCommandService) OpenAccount(ctx context.Context, cmd cqrs.OpenAccountCommand) (*models.Account, error) {
	var account *models.Account
	for attempt := 1; ; attempt++ {
		a, err := models.NewAccount(cmd.UserID, cmd.Name, cmd.AccountType, cmd.Currency, s.now())
		if err != nil {
			return nil, err
		}
		err = s.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.InsertAccount(ctx, a) })
		if err == nil {
			account = a
			break
		}
		// Account numbers are random; a clash just means draw again.
		if errors.Is(err, ledgererr.ErrConflict) && attempt < openAccountAttempts {
			continue
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "account opened", "account_id", account.ID, "user_id", account.UserID)
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, events.AccountOpened, events.AccountOpenedEvent{
		AccountID:     account.ID,
		AccountNumber: account.AccountNumber,
		UserID:        account.UserID,
		AccountType:   string(account.AccountType),
		Currency:      account.Currency,
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to publish account.opened event", "account_id", account.ID, "error", err)
	}
	return account, nil
}

// SetAccountStatus freezes, suspends, reactivates or closes an account.
// Closing requires a zero balance.
func (s *AccountCommandService) SetAccountStatus(ctx context.Context, cmd cqrs.SetAccountStatusCommand) (*models.Account, error) {
	var account *models.Account
	var old models.AccountStatus
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		a, err := tx.LockAccount(ctx, cmd.AccountID)
		if err != nil {
			return err
		}
		if !a.CanTransitionTo(cmd.Status) {
			return fmt.Errorf("%w: account %s cannot move from %s to %s",
				ledgererr.ErrInvalidStateTransition, a.ID, a.Status, cmd.Status)
		}
		old = a.Status
		a.Status = cmd.Status
		a.Version++
		a.UpdatedAt = s.now()
		account = a
		return tx.SaveAccount(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "account status changed", "account_id", account.ID, "from", old, "to", account.Status)
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, events.AccountStatusChanged, events.AccountStatusChangedEvent{
		AccountID: account.ID,
		UserID:    account.UserID,
		OldStatus: string(old),
		NewStatus: string(account.Status),
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to publish account.status_changed event", "account_id", account.ID, "error", err)
	}
	return account, nil
}
