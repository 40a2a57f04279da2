package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
	"github.com/google/uuid"
)

// ProfileCache is written through after each committed settings change.
type ProfileCache interface {
	ProfileProvider
	CacheLimit(ctx context.Context, l *models.TransactionLimit)
	CacheSecuritySettings(ctx context.Context, s *models.SecuritySettings)
}

// SettingsCommandService owns per-user configuration: tier, OTP policy,
// saved beneficiaries and recurring transfers.
type SettingsCommandService struct {
	store    repository.Store
	profiles ProfileCache
	logger   *slog.Logger
	now      func() time.Time
}

func NewSettingsCommandService(store repository.Store, profiles ProfileCache, logger *slog.Logger) *SettingsCommandService {
	return &SettingsCommandService{
		store:    store,
		profiles: profiles,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTier replaces the user's ceilings with the defaults of the new tier.
func (s *SettingsCommandService) SetTier(ctx context.Context, cmd cqrs.SetTierCommand) (*models.TransactionLimit, error) {
	if cmd.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ledgererr.ErrInvalidTransaction)
	}
	if _, err := models.ParseTier(string(cmd.Tier)); err != nil {
		return nil, err
	}
	limit := models.DefaultTransactionLimit(cmd.UserID, cmd.Tier)
	limit.UpdatedAt = s.now()
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.UpsertTransactionLimit(ctx, limit) }); err != nil {
		return nil, err
	}
	s.profiles.CacheLimit(ctx, limit)
	s.logger.InfoContext(ctx, "tier changed", "user_id", cmd.UserID, "tier", limit.Tier)
	return limit, nil
}

func (s *SettingsCommandService) UpdateSecuritySettings(ctx context.Context, cmd cqrs.UpdateSecuritySettingsCommand) (*models.SecuritySettings, error) {
	current, err := s.profiles.FetchSecuritySettings(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	updated := *current
	if cmd.RequireOTPForTransactions != nil {
		updated.RequireOTPForTransactions = *cmd.RequireOTPForTransactions
	}
	if cmd.TransactionThreshold != nil {
		if cmd.TransactionThreshold.IsNegative() {
			return nil, fmt.Errorf("%w: threshold cannot be negative", ledgererr.ErrInvalidTransaction)
		}
		updated.TransactionThreshold = *cmd.TransactionThreshold
	}
	updated.UserID = cmd.UserID
	updated.UpdatedAt = s.now()

	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.UpsertSecuritySettings(ctx, &updated) }); err != nil {
		return nil, err
	}
	s.profiles.CacheSecuritySettings(ctx, &updated)
	return &updated, nil
}

func (s *SettingsCommandService) AddBeneficiary(ctx context.Context, cmd cqrs.AddBeneficiaryCommand) (*models.Beneficiary, error) {
	b, err := models.NewBeneficiary(cmd.UserID, cmd.Name, cmd.AccountNumber, cmd.BankName, cmd.BeneficiaryType, cmd.Nickname, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.InsertBeneficiary(ctx, b) }); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateSchedule registers a recurring transfer from one of the user's
// accounts. The scheduler worker turns each due run into a TRANSFER.
func (s *SettingsCommandService) CreateSchedule(ctx context.Context, cmd cqrs.CreateScheduleCommand) (*models.ScheduledTransaction, error) {
	now := s.now()
	if !cmd.Amount.IsPositive() || !cmd.Amount.Equal(cmd.Amount.Round(2)) {
		return nil, fmt.Errorf("%w: amount must be positive with at most two decimal places", ledgererr.ErrInvalidTransaction)
	}
	freq, err := models.ParseFrequency(string(cmd.Frequency))
	if err != nil {
		return nil, err
	}
	if cmd.DestinationAccountID == "" && cmd.BeneficiaryAccount == "" {
		return nil, fmt.Errorf("%w: a destination account or beneficiary account is required", ledgererr.ErrInvalidTransaction)
	}
	if cmd.DestinationAccountID != "" && cmd.DestinationAccountID == cmd.SourceAccountID {
		return nil, fmt.Errorf("%w: source and destination must differ", ledgererr.ErrInvalidTransaction)
	}
	if cmd.EndDate != nil && cmd.EndDate.Before(cmd.StartDate) {
		return nil, fmt.Errorf("%w: end date precedes start date", ledgererr.ErrInvalidTransaction)
	}
	if cmd.MaxExecutions != nil && *cmd.MaxExecutions <= 0 {
		return nil, fmt.Errorf("%w: max executions must be positive", ledgererr.ErrInvalidTransaction)
	}

	source, err := s.store.GetAccount(ctx, cmd.SourceAccountID)
	if err != nil {
		return nil, err
	}
	if source.UserID != cmd.UserID {
		return nil, fmt.Errorf("%w: account %s belongs to another user", ledgererr.ErrForbidden, source.ID)
	}
	if cmd.DestinationAccountID != "" {
		dest, err := s.store.GetAccount(ctx, cmd.DestinationAccountID)
		if err != nil {
			return nil, err
		}
		if dest.Currency != source.Currency {
			return nil, fmt.Errorf("%w: destination currency is %s, source is %s", ledgererr.ErrInvalidTransaction, dest.Currency, source.Currency)
		}
	}

	start := cmd.StartDate
	if start.IsZero() {
		start = now
	}
	sched := &models.ScheduledTransaction{
		ID:                   uuid.NewString(),
		UserID:               cmd.UserID,
		SourceAccountID:      cmd.SourceAccountID,
		DestinationAccountID: cmd.DestinationAccountID,
		BeneficiaryName:      cmd.BeneficiaryName,
		BeneficiaryAccount:   cmd.BeneficiaryAccount,
		BeneficiaryBank:      cmd.BeneficiaryBank,
		Amount:               cmd.Amount,
		Currency:             source.Currency,
		Description:          cmd.Description,
		Frequency:            freq,
		StartDate:            start,
		EndDate:              cmd.EndDate,
		NextExecution:        start,
		MaxExecutions:        cmd.MaxExecutions,
		Status:               models.ScheduleActive,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.store.WithinTx(ctx, func(tx repository.Tx) error { return tx.SaveSchedule(ctx, sched) }); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "schedule created", "schedule_id", sched.ID, "frequency", sched.Frequency)
	return sched, nil
}
