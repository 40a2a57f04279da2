package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/events"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/shared/utils"
	"github.com/Br41n7/Securebank/transaction-service/internal/audit"
	"github.com/Br41n7/Securebank/transaction-service/internal/ledger"
	"github.com/Br41n7/Securebank/transaction-service/internal/limits"
	"github.com/Br41n7/Securebank/transaction-service/internal/notify"
	"github.com/Br41n7/Securebank/transaction-service/internal/reference"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
	"github.com/Br41n7/Securebank/transaction-service/internal/telemetry"
	"github.com/shopspring/decimal"
)

const (
	maxInsertAttempts = 5

	// The maxOTPAttempts-th wrong code cancels a PENDING transaction.
	maxOTPAttempts = 5
	otpLockoutNote = "too many incorrect one-time codes"
)

// ProfileProvider resolves the tier ceilings and OTP policy of a user.
type ProfileProvider interface {
	FetchLimit(ctx context.Context, userID string) (*models.TransactionLimit, error)
	FetchSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error)
}

type ViewCacher interface {
	CacheTransactionView(ctx context.Context, view *models.TransactionView)
}

// TransactionCommandService drives the transaction state machine. Each step
// runs in one store transaction covering the status change, the ledger
// postings and the audit row; side effects are published after commit.
type TransactionCommandService struct {
	store     repository.Store
	profiles  ProfileProvider
	notifier  notify.Notifier
	auditSink audit.Sink
	limits    *limits.Evaluator
	ledger    *ledger.Ledger
	refs      *reference.Generator
	views     ViewCacher
	logger    *slog.Logger

	now          func() time.Time
	otpCode      func() (string, error)
	otpTTL       time.Duration
	feeAccountID string
}

type Option func(*TransactionCommandService)

func WithClock(now func() time.Time) Option {
	return func(s *TransactionCommandService) { s.now = now }
}

func WithOTPGenerator(fn func() (string, error)) Option {
	return func(s *TransactionCommandService) { s.otpCode = fn }
}

func WithOTPTTL(ttl time.Duration) Option {
	return func(s *TransactionCommandService) { s.otpTTL = ttl }
}

// WithFeeAccount credits fee and tax to accountID when a debit completes.
func WithFeeAccount(accountID string) Option {
	return func(s *TransactionCommandService) { s.feeAccountID = accountID }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *TransactionCommandService) { s.logger = logger }
}

func WithViewCache(views ViewCacher) Option {
	return func(s *TransactionCommandService) { s.views = views }
}

func WithReferenceGenerator(refs *reference.Generator) Option {
	return func(s *TransactionCommandService) { s.refs = refs }
}

func NewTransactionCommandService(
	store repository.Store,
	profiles ProfileProvider,
	notifier notify.Notifier,
	auditSink audit.Sink,
	evaluator *limits.Evaluator,
	opts ...Option,
) *TransactionCommandService {
	s := &TransactionCommandService{
		store:     store,
		profiles:  profiles,
		notifier:  notifier,
		auditSink: auditSink,
		limits:    evaluator,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		otpCode:   utils.GenerateOTP,
		otpTTL:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ledger = ledger.New(s.now)
	if s.refs == nil {
		s.refs = reference.NewGenerator(store, reference.WithClock(s.now))
	}
	return s
}

// outcome is what a committed step hands to the post-commit publisher.
type outcome struct {
	txn        *models.Transaction
	logs       []*models.TransactionLog
	event      string
	otpCode    string
	otpExpires time.Time
}

func (s *TransactionCommandService) publish(ctx context.Context, o outcome) {
	ctx = context.WithoutCancel(ctx)
	if s.views != nil {
		s.views.CacheTransactionView(ctx, o.txn.View())
	}
	for _, entry := range o.logs {
		if err := s.auditSink.Append(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "audit sink append failed", "reference", entry.Reference, "action", entry.Action, "error", err)
		}
	}
	if o.otpCode != "" {
		if err := s.notifier.SendOTP(ctx, o.txn, o.otpCode, o.otpExpires); err != nil {
			s.logger.WarnContext(ctx, "otp dispatch failed", "reference", o.txn.Reference, "error", err)
		}
	}
	if o.event != "" {
		if err := s.notifier.Notify(ctx, o.txn.UserID, o.event, o.txn); err != nil {
			s.logger.WarnContext(ctx, "notification failed", "reference", o.txn.Reference, "event", o.event, "error", err)
		}
	}
	telemetry.RecordTransition(string(o.txn.Type), string(o.txn.Status))
}

func (s *TransactionCommandService) reject(ctx context.Context, op, reference string, err error) error {
	code := ledgererr.CodeOf(err)
	telemetry.RecordRejection(op, string(code))
	switch {
	case code == ledgererr.CodeStorageUnavailable, code == ledgererr.CodeInternal, code == ledgererr.CodeInvariantViolation:
		s.logger.ErrorContext(ctx, "transaction step failed", "operation", op, "reference", reference, "code", code, "error", err)
	case code == ledgererr.CodeInvalidStateTransition:
		s.logger.WarnContext(ctx, "illegal transition", "operation", op, "reference", reference, "error", err)
	default:
		s.logger.InfoContext(ctx, "transaction rejected", "operation", op, "reference", reference, "code", code, "error", err)
	}
	return err
}

// CreateTransaction validates and persists a new transaction. Without an OTP
// requirement it is submitted in the same store transaction; otherwise it
// stays PENDING and a code is dispatched.
func (s *TransactionCommandService) CreateTransaction(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.Transaction, error) {
	if cmd.IdempotencyKey != "" {
		existing, err := s.store.FindByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ledgererr.ErrNotFound) {
			return nil, s.reject(ctx, "create", "", err)
		}
	}

	txn, err := s.prepare(ctx, cmd)
	if err != nil {
		return nil, s.reject(ctx, "create", "", err)
	}

	settings, err := s.profiles.FetchSecuritySettings(ctx, cmd.UserID)
	if err != nil {
		return nil, s.reject(ctx, "create", "", err)
	}
	requiresOTP := !cmd.PreAuthorized && txn.SourceAccountID != "" && (cmd.ForceOTP || settings.RequiresOTP(txn))

	var limit *models.TransactionLimit
	if !requiresOTP {
		if limit, err = s.profiles.FetchLimit(ctx, cmd.UserID); err != nil {
			return nil, s.reject(ctx, "create", "", err)
		}
	}

	var out outcome
	for attempt := 1; ; attempt++ {
		ref, err := s.refs.Generate(ctx, txn.Type.ReferencePrefix())
		if err != nil {
			return nil, s.reject(ctx, "create", "", err)
		}
		candidate := *txn
		candidate.Reference = ref

		out, err = s.insert(ctx, &candidate, requiresOTP, limit, cmd.Meta)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrIdempotencyKeyTaken) {
			return s.store.FindByIdempotencyKey(ctx, cmd.UserID, cmd.IdempotencyKey)
		}
		if errors.Is(err, ledgererr.ErrDuplicateReference) && attempt < maxInsertAttempts {
			s.logger.DebugContext(ctx, "reference collided at insert, regenerating", "reference", ref)
			continue
		}
		if errors.Is(err, ledgererr.ErrDuplicateReference) {
			err = fmt.Errorf("%w: reference collisions after %d attempts", ledgererr.ErrStorageUnavailable, attempt)
		}
		return nil, s.reject(ctx, "create", ref, err)
	}

	s.logger.InfoContext(ctx, "transaction created",
		"reference", out.txn.Reference, "type", out.txn.Type, "status", out.txn.Status, "requires_otp", out.txn.RequiresOTP)
	s.publish(ctx, out)
	return out.txn, nil
}

// prepare builds the transaction and checks the accounts it names.
func (s *TransactionCommandService) prepare(ctx context.Context, cmd cqrs.CreateTransactionCommand) (*models.Transaction, error) {
	txn, err := models.NewTransaction(models.NewTransactionParams{
		Type:                 cmd.Type,
		UserID:               cmd.UserID,
		SourceAccountID:      cmd.SourceAccountID,
		DestinationAccountID: cmd.DestinationAccountID,
		Amount:               cmd.Amount,
		Fee:                  cmd.Fee,
		Tax:                  cmd.Tax,
		Currency:             cmd.Currency,
		Priority:             cmd.Priority,
		Description:          cmd.Description,
		Narration:            cmd.Narration,
		RecipientName:        cmd.RecipientName,
		RecipientAccount:     cmd.RecipientAccount,
		RecipientBank:        cmd.RecipientBank,
		BeneficiaryID:        cmd.BeneficiaryID,
		IdempotencyKey:       cmd.IdempotencyKey,
		Meta:                 cmd.Meta,
	}, s.now())
	if err != nil {
		return nil, err
	}
	if txn.Type.Direction() == models.DirectionCredit && txn.Charges().IsPositive() {
		return nil, fmt.Errorf("%w: %s cannot carry fee or tax", ledgererr.ErrInvalidTransaction, txn.Type)
	}

	if txn.SourceAccountID != "" {
		source, err := s.store.GetAccount(ctx, txn.SourceAccountID)
		if err != nil {
			return nil, err
		}
		if source.UserID != cmd.UserID {
			return nil, fmt.Errorf("%w: account %s belongs to another user", ledgererr.ErrForbidden, source.ID)
		}
		if source.Currency != txn.Currency {
			return nil, fmt.Errorf("%w: account currency is %s, transaction is %s", ledgererr.ErrInvalidTransaction, source.Currency, txn.Currency)
		}
	}
	if txn.DestinationAccountID != "" {
		dest, err := s.store.GetAccount(ctx, txn.DestinationAccountID)
		if err != nil {
			return nil, err
		}
		if dest.Currency != txn.Currency {
			return nil, fmt.Errorf("%w: destination currency is %s, transaction is %s", ledgererr.ErrInvalidTransaction, dest.Currency, txn.Currency)
		}
		if txn.Type.Direction() == models.DirectionCredit && dest.UserID != cmd.UserID {
			return nil, fmt.Errorf("%w: account %s belongs to another user", ledgererr.ErrForbidden, dest.ID)
		}
	}

	if txn.BeneficiaryID != "" {
		b, err := s.store.GetBeneficiary(ctx, txn.BeneficiaryID)
		if err != nil {
			return nil, err
		}
		if b.UserID != cmd.UserID {
			return nil, fmt.Errorf("%w: beneficiary belongs to another user", ledgererr.ErrForbidden)
		}
		if txn.RecipientName == "" {
			txn.RecipientName = b.Name
		}
		if txn.RecipientAccount == "" {
			txn.RecipientAccount = b.AccountNumber
		}
		if txn.RecipientBank == "" {
			txn.RecipientBank = b.BankName
		}
	}
	return txn, nil
}

func (s *TransactionCommandService) insert(ctx context.Context, txn *models.Transaction, requiresOTP bool, limit *models.TransactionLimit, meta models.RequestMeta) (outcome, error) {
	out := outcome{txn: txn}

	if requiresOTP {
		code, err := s.otpCode()
		if err != nil {
			return out, fmt.Errorf("failed to generate otp: %w", err)
		}
		hash, err := utils.HashOTP(code)
		if err != nil {
			return out, fmt.Errorf("failed to hash otp: %w", err)
		}
		expires := s.now().Add(s.otpTTL)
		txn.RequiresOTP = true
		txn.OTPHash = hash
		txn.OTPExpiresAt = &expires
		out.otpCode, out.otpExpires = code, expires
	}

	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if requiresOTP {
			entry := audit.NewEntry(txn, models.ActionOTPRequested, models.StatusPending, models.StatusPending,
				"awaiting one-time code", meta, s.now())
			out.logs = append(out.logs, entry)
			return tx.AppendLog(ctx, entry)
		}
		entry, err := s.submitLocked(ctx, tx, txn, limit, meta)
		if err != nil {
			return err
		}
		out.logs = append(out.logs, entry)
		out.event = events.TransactionSubmitted
		return nil
	})
	return out, err
}

// submitLocked moves a PENDING transaction to PROCESSING: limit check, account
// checks and the hold on the source, all under the caller's store transaction.
func (s *TransactionCommandService) submitLocked(ctx context.Context, tx repository.Tx, txn *models.Transaction, limit *models.TransactionLimit, meta models.RequestMeta) (*models.TransactionLog, error) {
	if !txn.Status.CanTransitionTo(models.StatusProcessing) {
		return nil, invalidTransition(txn, models.StatusProcessing)
	}
	now := s.now()

	if _, ok := txn.Type.LimitCategory(); ok {
		if err := tx.LockUserWindow(ctx, txn.UserID); err != nil {
			return nil, err
		}
		if err := s.limits.Check(ctx, tx, limit, txn.UserID, txn.Type, txn.Amount, now); err != nil {
			return nil, err
		}
	}

	accounts, err := lockAccounts(ctx, tx, txn.AccountIDs())
	if err != nil {
		return nil, err
	}
	if dest, ok := accounts[txn.DestinationAccountID]; ok && !dest.IsActive() {
		return nil, fmt.Errorf("%w: destination account %s is %s", ledgererr.ErrAccountNotActive, dest.ID, dest.Status)
	}
	if source, ok := accounts[txn.SourceAccountID]; ok {
		if !source.IsActive() {
			return nil, fmt.Errorf("%w: source account %s is %s", ledgererr.ErrAccountNotActive, source.ID, source.Status)
		}
		if err := s.limits.CheckAccountDaily(ctx, tx, source, txn.Amount, now); err != nil {
			return nil, err
		}
		hold, err := s.ledger.Reserve(ctx, tx, source.ID, txn.TotalAmount)
		if err != nil {
			return nil, err
		}
		txn.HeldAmount = hold.Amount
	}

	old := txn.Status
	txn.Status = models.StatusProcessing
	txn.ProcessedAt = &now
	txn.Touch(now)
	if err := tx.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if txn.BeneficiaryID != "" {
		if err := tx.TouchBeneficiary(ctx, txn.BeneficiaryID, now); err != nil {
			return nil, err
		}
	}
	entry := audit.NewEntry(txn, models.ActionCreated, old, txn.Status, "submitted for processing", meta, now)
	return entry, tx.AppendLog(ctx, entry)
}

// lockAccounts locks ids in ascending order, skipping blanks and duplicates.
func lockAccounts(ctx context.Context, tx repository.Tx, ids []string) (map[string]*models.Account, error) {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	out := make(map[string]*models.Account, len(sorted))
	for _, id := range sorted {
		a, err := tx.LockAccount(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func invalidTransition(txn *models.Transaction, next models.TransactionStatus) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s", ledgererr.ErrInvalidStateTransition, txn.Reference, txn.Status, next)
}

func checkOwner(txn *models.Transaction, userID string) error {
	if userID != "" && txn.UserID != userID {
		// Reported as not found so references cannot be probed.
		return fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, txn.Reference)
	}
	return nil
}

// VerifyOTP checks code against a PENDING transaction. A wrong or expired
// code returns false and changes nothing. A correct code marks the
// transaction verified and submits it; if that submission is rejected the
// verification still stands and the error is returned with true.
func (s *TransactionCommandService) VerifyOTP(ctx context.Context, cmd cqrs.VerifyOTPCommand) (*models.Transaction, bool, error) {
	var out outcome
	verified := false
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		txn, err := tx.LockTransaction(ctx, cmd.Reference)
		if err != nil {
			return err
		}
		if err := checkOwner(txn, cmd.UserID); err != nil {
			return err
		}
		out.txn = txn
		if txn.Status != models.StatusPending || !txn.RequiresOTP {
			return fmt.Errorf("%w: %s is %s and not awaiting a code", ledgererr.ErrInvalidStateTransition, txn.Reference, txn.Status)
		}
		if txn.OTPVerified {
			verified = true
			return nil
		}
		now := s.now()
		if txn.OTPExpiresAt == nil || now.After(*txn.OTPExpiresAt) {
			return nil
		}
		if !utils.CheckOTP(cmd.Code, txn.OTPHash) {
			return s.recordOTPMiss(ctx, tx, txn, cmd.Meta, now, &out)
		}

		verified = true
		txn.OTPVerified = true
		txn.OTPHash = ""
		txn.Touch(now)
		if err := tx.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
		entry := audit.NewEntry(txn, models.ActionOTPVerified, txn.Status, txn.Status, "one-time code accepted", cmd.Meta, now)
		out.logs = append(out.logs, entry)
		return tx.AppendLog(ctx, entry)
	})
	if err != nil {
		return nil, false, s.reject(ctx, "verify_otp", cmd.Reference, err)
	}
	if !verified {
		telemetry.RecordRejection("verify_otp", string(ledgererr.CodeOtpNotVerified))
		s.logger.InfoContext(ctx, "otp rejected", "reference", cmd.Reference, "attempts", out.txn.OTPAttempts)
		if len(out.logs) > 0 {
			s.logger.WarnContext(ctx, "transaction cancelled after repeated otp failures", "reference", cmd.Reference)
			s.publish(ctx, out)
		}
		return out.txn, false, nil
	}
	if len(out.logs) > 0 {
		s.publish(ctx, out)
	}

	txn, err := s.Submit(ctx, cqrs.SubmitTransactionCommand{Reference: cmd.Reference, UserID: cmd.UserID, Meta: cmd.Meta})
	if err != nil {
		return out.txn, true, err
	}
	return txn, true, nil
}

// recordOTPMiss counts a wrong code. The last allowed miss cancels the
// transaction; PENDING transactions hold no funds so nothing is released.
func (s *TransactionCommandService) recordOTPMiss(ctx context.Context, tx repository.Tx, txn *models.Transaction, meta models.RequestMeta, now time.Time, out *outcome) error {
	txn.OTPAttempts++
	if txn.OTPAttempts < maxOTPAttempts {
		txn.Touch(now)
		return tx.UpdateTransaction(ctx, txn)
	}
	txn.OTPHash = ""
	txn.AppendNote(otpLockoutNote)
	entry, err := s.finish(ctx, tx, txn, models.StatusCancelled, models.ActionCancelled, otpLockoutNote, meta)
	if err != nil {
		return err
	}
	out.logs = append(out.logs, entry)
	out.event = events.TransactionCancelled
	return nil
}

// Submit moves a verified PENDING transaction to PROCESSING.
func (s *TransactionCommandService) Submit(ctx context.Context, cmd cqrs.SubmitTransactionCommand) (*models.Transaction, error) {
	current, err := s.store.GetTransactionByReference(ctx, cmd.Reference)
	if err != nil {
		return nil, s.reject(ctx, "submit", cmd.Reference, err)
	}
	if err := checkOwner(current, cmd.UserID); err != nil {
		return nil, s.reject(ctx, "submit", cmd.Reference, err)
	}
	limit, err := s.profiles.FetchLimit(ctx, current.UserID)
	if err != nil {
		return nil, s.reject(ctx, "submit", cmd.Reference, err)
	}

	return s.transition(ctx, "submit", cmd.Reference, cmd.UserID, func(tx repository.Tx, txn *models.Transaction) (*models.TransactionLog, string, error) {
		if txn.Status != models.StatusPending {
			return nil, "", invalidTransition(txn, models.StatusProcessing)
		}
		if txn.RequiresOTP && !txn.OTPVerified {
			return nil, "", fmt.Errorf("%w: %s", ledgererr.ErrOtpNotVerified, txn.Reference)
		}
		entry, err := s.submitLocked(ctx, tx, txn, limit, cmd.Meta)
		return entry, events.TransactionSubmitted, err
	})
}

type stepFunc func(tx repository.Tx, txn *models.Transaction) (*models.TransactionLog, string, error)

// transition locks the transaction, runs step and publishes the result.
// step returns the audit row it appended and the event to notify.
func (s *TransactionCommandService) transition(ctx context.Context, op, reference, userID string, step stepFunc) (*models.Transaction, error) {
	var out outcome
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		txn, err := tx.LockTransaction(ctx, reference)
		if err != nil {
			return err
		}
		if err := checkOwner(txn, userID); err != nil {
			return err
		}
		entry, event, err := step(tx, txn)
		if err != nil {
			return err
		}
		out = outcome{txn: txn, logs: []*models.TransactionLog{entry}, event: event}
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, op, reference, err)
	}
	s.logger.InfoContext(ctx, "transaction transitioned",
		"operation", op, "reference", reference, "status", out.txn.Status)
	s.publish(ctx, out)
	return out.txn, nil
}

// finish writes the new status and its audit row.
func (s *TransactionCommandService) finish(ctx context.Context, tx repository.Tx, txn *models.Transaction, next models.TransactionStatus, action models.LogAction, details string, meta models.RequestMeta) (*models.TransactionLog, error) {
	now := s.now()
	old := txn.Status
	txn.Status = next
	txn.Touch(now)
	if next == models.StatusCompleted {
		txn.CompletedAt = &now
	}
	if err := tx.UpdateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	entry := audit.NewEntry(txn, action, old, next, details, meta, now)
	return entry, tx.AppendLog(ctx, entry)
}

func (s *TransactionCommandService) feeAccountFor(txn *models.Transaction) string {
	if s.feeAccountID == "" || txn.SourceAccountID == "" || !txn.Charges().IsPositive() {
		return ""
	}
	return s.feeAccountID
}

// Complete settles a PROCESSING transaction: the source hold is committed,
// the destination credited with the amount and charges go to the fee account.
func (s *TransactionCommandService) Complete(ctx context.Context, cmd cqrs.CompleteTransactionCommand) (*models.Transaction, error) {
	return s.transition(ctx, "complete", cmd.Reference, "", func(tx repository.Tx, txn *models.Transaction) (*models.TransactionLog, string, error) {
		if txn.Status != models.StatusProcessing {
			return nil, "", invalidTransition(txn, models.StatusCompleted)
		}
		fee := s.feeAccountFor(txn)
		if _, err := lockAccounts(ctx, tx, append(txn.AccountIDs(), fee)); err != nil {
			return nil, "", err
		}
		if txn.HeldAmount.IsPositive() {
			if err := s.ledger.Commit(ctx, tx, ledger.Hold{AccountID: txn.SourceAccountID, Amount: txn.HeldAmount}); err != nil {
				return nil, "", err
			}
			txn.HeldAmount = decimal.Zero
		}
		if txn.DestinationAccountID != "" {
			if err := s.ledger.Post(ctx, tx, txn.DestinationAccountID, txn.Amount); err != nil {
				return nil, "", err
			}
		}
		if fee != "" {
			if err := s.ledger.Post(ctx, tx, fee, txn.Charges()); err != nil {
				return nil, "", err
			}
		}
		entry, err := s.finish(ctx, tx, txn, models.StatusCompleted, models.ActionCompleted, "settled", cmd.Meta)
		return entry, events.TransactionCompleted, err
	})
}

// Fail ends a PROCESSING transaction and releases its hold.
func (s *TransactionCommandService) Fail(ctx context.Context, cmd cqrs.FailTransactionCommand) (*models.Transaction, error) {
	return s.transition(ctx, "fail", cmd.Reference, "", func(tx repository.Tx, txn *models.Transaction) (*models.TransactionLog, string, error) {
		if txn.Status != models.StatusProcessing {
			return nil, "", invalidTransition(txn, models.StatusFailed)
		}
		if err := s.releaseHold(ctx, tx, txn); err != nil {
			return nil, "", err
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "failed"
		}
		txn.AppendNote(reason)
		entry, err := s.finish(ctx, tx, txn, models.StatusFailed, models.ActionFailed, reason, cmd.Meta)
		return entry, events.TransactionFailed, err
	})
}

// Cancel stops a PENDING or PROCESSING transaction, releasing any hold.
func (s *TransactionCommandService) Cancel(ctx context.Context, cmd cqrs.CancelTransactionCommand) (*models.Transaction, error) {
	return s.transition(ctx, "cancel", cmd.Reference, cmd.UserID, func(tx repository.Tx, txn *models.Transaction) (*models.TransactionLog, string, error) {
		if !txn.Status.CanTransitionTo(models.StatusCancelled) {
			return nil, "", invalidTransition(txn, models.StatusCancelled)
		}
		if err := s.releaseHold(ctx, tx, txn); err != nil {
			return nil, "", err
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "cancelled by user"
		}
		txn.AppendNote(reason)
		entry, err := s.finish(ctx, tx, txn, models.StatusCancelled, models.ActionCancelled, reason, cmd.Meta)
		return entry, events.TransactionCancelled, err
	})
}

func (s *TransactionCommandService) releaseHold(ctx context.Context, tx repository.Tx, txn *models.Transaction) error {
	if !txn.HeldAmount.IsPositive() {
		return nil
	}
	if _, err := lockAccounts(ctx, tx, txn.AccountIDs()); err != nil {
		return err
	}
	if err := s.ledger.Release(ctx, tx, ledger.Hold{AccountID: txn.SourceAccountID, Amount: txn.HeldAmount}); err != nil {
		return err
	}
	txn.HeldAmount = decimal.Zero
	return nil
}

// Reverse undoes a COMPLETED transaction with the mirror postings: the
// source gets its total back, the destination and fee account give up what
// they received.
func (s *TransactionCommandService) Reverse(ctx context.Context, cmd cqrs.ReverseTransactionCommand) (*models.Transaction, error) {
	return s.transition(ctx, "reverse", cmd.Reference, "", func(tx repository.Tx, txn *models.Transaction) (*models.TransactionLog, string, error) {
		if !txn.Status.CanTransitionTo(models.StatusReversed) {
			return nil, "", invalidTransition(txn, models.StatusReversed)
		}
		fee := s.feeAccountFor(txn)
		if _, err := lockAccounts(ctx, tx, append(txn.AccountIDs(), fee)); err != nil {
			return nil, "", err
		}
		if txn.DestinationAccountID != "" {
			if err := s.ledger.Post(ctx, tx, txn.DestinationAccountID, txn.Amount.Neg()); err != nil {
				return nil, "", err
			}
		}
		if fee != "" {
			if err := s.ledger.Post(ctx, tx, fee, txn.Charges().Neg()); err != nil {
				return nil, "", err
			}
		}
		if txn.SourceAccountID != "" {
			if err := s.ledger.Post(ctx, tx, txn.SourceAccountID, txn.TotalAmount); err != nil {
				return nil, "", err
			}
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "reversed"
		}
		txn.AppendNote(reason)
		entry, err := s.finish(ctx, tx, txn, models.StatusReversed, models.ActionReversed, reason, cmd.Meta)
		return entry, events.TransactionReversed, err
	})
}
