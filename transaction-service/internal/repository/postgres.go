package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var dbTracer = otel.Tracer("securebank.db")

// OpenPostgres opens a pooled connection and verifies it with a ping.
func OpenPostgres(ctx context.Context, url string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore is the durable Store. Steps run at READ COMMITTED with
// explicit row locks and a per-user advisory lock for limit windows.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// conn is satisfied by both *sql.DB and *sql.Tx.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func startSpan(ctx context.Context, name, query string) (context.Context, trace.Span) {
	return dbTracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", sqlVerb(query)),
		attribute.String("db.statement", query),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sqlVerb(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func exec(ctx context.Context, c conn, name, query string, args ...any) (sql.Result, error) {
	ctx, span := startSpan(ctx, name, query)
	res, err := c.ExecContext(ctx, query, args...)
	endSpan(span, err)
	return res, classify(err)
}

func queryRow(ctx context.Context, c conn, name, query string, args []any, scan func(rowScanner) error) error {
	ctx, span := startSpan(ctx, name, query)
	err := scan(c.QueryRowContext(ctx, query, args...))
	endSpan(span, err)
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return classify(err)
}

func queryRows(ctx context.Context, c conn, name, query string, args []any, scan func(rowScanner) error) error {
	ctx, span := startSpan(ctx, name, query)
	err := func() error {
		rows, err := c.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			if err := scan(rows); err != nil {
				return err
			}
		}
		return rows.Err()
	}()
	endSpan(span, err)
	return classify(err)
}

// classify maps driver failures onto the ledger error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var le *ledgererr.Error
	if errors.As(err, &le) || errors.Is(err, ErrIdempotencyKeyTaken) {
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ledgererr.ErrStorageUnavailable, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			switch pqErr.Constraint {
			case "transactions_reference_key":
				return fmt.Errorf("%w: %s", ledgererr.ErrDuplicateReference, pqErr.Detail)
			case "transactions_idempotency_key":
				return ErrIdempotencyKeyTaken
			default:
				return fmt.Errorf("%w: %s", ledgererr.ErrConflict, pqErr.Constraint)
			}
		case pqErr.Code == "23514":
			return fmt.Errorf("%w: %s", ledgererr.ErrInvariantViolation, pqErr.Constraint)
		case pqErr.Code == "40001", pqErr.Code == "40P01", pqErr.Code == "57P01",
			pqErr.Code == "53300", pqErr.Code.Class() == "08":
			return fmt.Errorf("%w: %s", ledgererr.ErrStorageUnavailable, pqErr.Message)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ledgererr.ErrStorageUnavailable, err)
	}
	return err
}

func (p *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	ctx, span := dbTracer.Start(ctx, "db.WithinTx")
	defer func() { endSpan(span, err) }()

	sqlTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(err)
	}
	defer sqlTx.Rollback()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func statusStrings(statuses []models.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ---------- transactions ----------

const transactionColumns = `id, reference, type, user_id, source_account_id, destination_account_id,
	amount, currency, fee, tax, total_amount, held_amount, status, priority,
	requires_otp, otp_verified, otp_hash, otp_expires_at, description, narration,
	recipient_name, recipient_account, recipient_bank, beneficiary_id, idempotency_key,
	notes, ip_address, user_agent, device_id, created_at, processed_at, completed_at, updated_at,
	otp_attempts, version`

func scanTransaction(r rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var source, destination, beneficiary, idempotency sql.NullString
	var otpExpires, processed, completed sql.NullTime
	err := r.Scan(
		&t.ID, &t.Reference, &t.Type, &t.UserID, &source, &destination,
		&t.Amount, &t.Currency, &t.Fee, &t.Tax, &t.TotalAmount, &t.HeldAmount, &t.Status, &t.Priority,
		&t.RequiresOTP, &t.OTPVerified, &t.OTPHash, &otpExpires, &t.Description, &t.Narration,
		&t.RecipientName, &t.RecipientAccount, &t.RecipientBank, &beneficiary, &idempotency,
		&t.Notes, &t.Meta.IPAddress, &t.Meta.UserAgent, &t.Meta.DeviceID, &t.CreatedAt, &processed, &completed, &t.UpdatedAt,
		&t.OTPAttempts, &t.Version,
	)
	if err != nil {
		return nil, err
	}
	t.SourceAccountID = source.String
	t.DestinationAccountID = destination.String
	t.BeneficiaryID = beneficiary.String
	t.IdempotencyKey = idempotency.String
	t.OTPExpiresAt = timePtr(otpExpires)
	t.ProcessedAt = timePtr(processed)
	t.CompletedAt = timePtr(completed)
	return &t, nil
}

func getTransaction(ctx context.Context, c conn, name, query string, args ...any) (*models.Transaction, error) {
	var txn *models.Transaction
	err := queryRow(ctx, c, name, query, args, func(r rowScanner) error {
		var err error
		txn, err = scanTransaction(r)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %v", ledgererr.ErrNotFound, args[0])
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func listTransactions(ctx context.Context, c conn, name, query string, args ...any) ([]models.Transaction, error) {
	var out []models.Transaction
	err := queryRows(ctx, c, name, query, args, func(r rowScanner) error {
		t, err := scanTransaction(r)
		if err != nil {
			return err
		}
		out = append(out, *t)
		return nil
	})
	return out, err
}

func (p *PostgresStore) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return getTransaction(ctx, p.db, "transactions.get_by_reference",
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
}

func (p *PostgresStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	return getTransaction(ctx, p.db, "transactions.find_by_idempotency_key",
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 AND idempotency_key = $2`, userID, key)
}

func (p *PostgresStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := queryRow(ctx, p.db, "transactions.reference_exists",
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE reference = $1)`, []any{reference},
		func(r rowScanner) error { return r.Scan(&exists) })
	return exists, err
}

func (p *PostgresStore) ListTransactionsByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return listTransactions(ctx, p.db, "transactions.list_by_account",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC, reference DESC
		LIMIT $2 OFFSET $3`, accountID, limit, offset)
}

func (p *PostgresStore) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	return listTransactions(ctx, p.db, "transactions.list_stuck",
		`SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'PROCESSING' AND COALESCE(processed_at, updated_at) < $1
		ORDER BY COALESCE(processed_at, updated_at)
		LIMIT $2`, cutoff, limit)
}

func (p *PostgresStore) ListLogs(ctx context.Context, transactionID string) ([]models.TransactionLog, error) {
	var out []models.TransactionLog
	err := queryRows(ctx, p.db, "transaction_logs.list",
		`SELECT id, transaction_id, reference, action, old_status, new_status, details, ip_address, user_agent, created_at
		FROM transaction_logs WHERE transaction_id = $1 ORDER BY created_at, id`, []any{transactionID},
		func(r rowScanner) error {
			var l models.TransactionLog
			if err := r.Scan(&l.ID, &l.TransactionID, &l.Reference, &l.Action, &l.OldStatus, &l.NewStatus,
				&l.Details, &l.IPAddress, &l.UserAgent, &l.CreatedAt); err != nil {
				return err
			}
			out = append(out, l)
			return nil
		})
	return out, err
}

// ---------- accounts ----------

const accountColumns = `id, user_id, account_number, account_name, account_type, currency,
	balance, available_balance, frozen_balance, status, daily_limit, single_transaction_limit,
	version, created_at, updated_at`

func scanAccount(r rowScanner) (*models.Account, error) {
	var a models.Account
	err := r.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountName, &a.AccountType, &a.Currency,
		&a.Balance, &a.AvailableBalance, &a.FrozenBalance, &a.Status, &a.DailyLimit, &a.SingleTransactionLimit,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func getAccount(ctx context.Context, c conn, name, query, accountID string) (*models.Account, error) {
	var account *models.Account
	err := queryRow(ctx, c, name, query, []any{accountID}, func(r rowScanner) error {
		var err error
		account, err = scanAccount(r)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ledgererr.ErrNotFound, accountID)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return getAccount(ctx, p.db, "accounts.get", `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
}

func (p *PostgresStore) ListAccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	var out []models.Account
	err := queryRows(ctx, p.db, "accounts.list_by_user",
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at`, []any{userID},
		func(r rowScanner) error {
			a, err := scanAccount(r)
			if err != nil {
				return err
			}
			out = append(out, *a)
			return nil
		})
	return out, err
}

// ---------- limits and settings ----------

func (p *PostgresStore) GetTransactionLimit(ctx context.Context, userID string) (*models.TransactionLimit, error) {
	var tier models.Tier
	var transfer, withdrawal, crypto models.Ceilings
	var updated time.Time
	err := queryRow(ctx, p.db, "transaction_limits.get",
		`SELECT tier,
			single_transfer_limit, daily_transfer_limit, monthly_transfer_limit,
			single_withdrawal_limit, daily_withdrawal_limit, monthly_withdrawal_limit,
			single_crypto_limit, daily_crypto_limit, monthly_crypto_limit, updated_at
		FROM transaction_limits WHERE user_id = $1`, []any{userID},
		func(r rowScanner) error {
			return r.Scan(&tier,
				&transfer.Single, &transfer.Daily, &transfer.Monthly,
				&withdrawal.Single, &withdrawal.Daily, &withdrawal.Monthly,
				&crypto.Single, &crypto.Daily, &crypto.Monthly, &updated)
		})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction limit for %s", ledgererr.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &models.TransactionLimit{
		UserID: userID,
		Tier:   tier,
		Categories: map[models.LimitCategory]models.Ceilings{
			models.CategoryTransfer:   transfer,
			models.CategoryWithdrawal: withdrawal,
			models.CategoryCrypto:     crypto,
		},
		UpdatedAt: updated,
	}, nil
}

func (p *PostgresStore) GetSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	s := models.SecuritySettings{UserID: userID}
	err := queryRow(ctx, p.db, "security_settings.get",
		`SELECT require_otp_for_transactions, transaction_threshold, updated_at FROM security_settings WHERE user_id = $1`,
		[]any{userID}, func(r rowScanner) error {
			return r.Scan(&s.RequireOTPForTransactions, &s.TransactionThreshold, &s.UpdatedAt)
		})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: security settings for %s", ledgererr.ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ---------- beneficiaries and schedules ----------

const beneficiaryColumns = `id, user_id, name, account_number, bank_name, beneficiary_type, nickname,
	is_favorite, usage_count, last_used, created_at`

func scanBeneficiary(r rowScanner) (*models.Beneficiary, error) {
	var b models.Beneficiary
	var lastUsed sql.NullTime
	if err := r.Scan(&b.ID, &b.UserID, &b.Name, &b.AccountNumber, &b.BankName, &b.BeneficiaryType, &b.Nickname,
		&b.IsFavorite, &b.UsageCount, &lastUsed, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.LastUsed = timePtr(lastUsed)
	return &b, nil
}

func (p *PostgresStore) GetBeneficiary(ctx context.Context, id string) (*models.Beneficiary, error) {
	var b *models.Beneficiary
	err := queryRow(ctx, p.db, "beneficiaries.get",
		`SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE id = $1`, []any{id},
		func(r rowScanner) error {
			var err error
			b, err = scanBeneficiary(r)
			return err
		})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: beneficiary %s", ledgererr.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (p *PostgresStore) ListBeneficiaries(ctx context.Context, userID string) ([]models.Beneficiary, error) {
	var out []models.Beneficiary
	err := queryRows(ctx, p.db, "beneficiaries.list",
		`SELECT `+beneficiaryColumns+` FROM beneficiaries WHERE user_id = $1
		ORDER BY is_favorite DESC, usage_count DESC`, []any{userID},
		func(r rowScanner) error {
			b, err := scanBeneficiary(r)
			if err != nil {
				return err
			}
			out = append(out, *b)
			return nil
		})
	return out, err
}

const scheduleColumns = `id, user_id, source_account_id, destination_account_id, beneficiary_name,
	beneficiary_account, beneficiary_bank, amount, description, frequency, start_date, end_date,
	next_execution, execution_count, max_executions, status, created_at, updated_at, currency`

func scanSchedule(r rowScanner) (*models.ScheduledTransaction, error) {
	var s models.ScheduledTransaction
	var destination sql.NullString
	var end sql.NullTime
	var maxExec sql.NullInt64
	if err := r.Scan(&s.ID, &s.UserID, &s.SourceAccountID, &destination, &s.BeneficiaryName,
		&s.BeneficiaryAccount, &s.BeneficiaryBank, &s.Amount, &s.Description, &s.Frequency, &s.StartDate, &end,
		&s.NextExecution, &s.ExecutionCount, &maxExec, &s.Status, &s.CreatedAt, &s.UpdatedAt, &s.Currency); err != nil {
		return nil, err
	}
	s.DestinationAccountID = destination.String
	s.EndDate = timePtr(end)
	if maxExec.Valid {
		n := int(maxExec.Int64)
		s.MaxExecutions = &n
	}
	return &s, nil
}

func (p *PostgresStore) listSchedules(ctx context.Context, name, query string, args ...any) ([]models.ScheduledTransaction, error) {
	var out []models.ScheduledTransaction
	err := queryRows(ctx, p.db, name, query, args, func(r rowScanner) error {
		s, err := scanSchedule(r)
		if err != nil {
			return err
		}
		out = append(out, *s)
		return nil
	})
	return out, err
}

func (p *PostgresStore) ListSchedules(ctx context.Context, userID string) ([]models.ScheduledTransaction, error) {
	return p.listSchedules(ctx, "scheduled_transactions.list",
		`SELECT `+scheduleColumns+` FROM scheduled_transactions WHERE user_id = $1 ORDER BY next_execution`, userID)
}

func (p *PostgresStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ScheduledTransaction, error) {
	return p.listSchedules(ctx, "scheduled_transactions.list_due",
		`SELECT `+scheduleColumns+` FROM scheduled_transactions
		WHERE status = 'ACTIVE' AND next_execution <= $1
		ORDER BY next_execution LIMIT $2`, now, limit)
}

// ---------- transaction scope ----------

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	return getTransaction(ctx, t.tx, "transactions.lock",
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference)
}

func (t *pgTx) LockUserWindow(ctx context.Context, userID string) error {
	_, err := exec(ctx, t.tx, "limits.lock_user_window", `SELECT pg_advisory_xact_lock(hashtext($1))`, userID)
	return err
}

func (t *pgTx) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return getAccount(ctx, t.tx, "accounts.lock", `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
}

func (t *pgTx) sum(ctx context.Context, name, query string, args ...any) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := queryRow(ctx, t.tx, name, query, args, func(r rowScanner) error { return r.Scan(&total) })
	return total, err
}

func (t *pgTx) SumUserAmounts(ctx context.Context, userID string, types []models.TransactionType, from, to time.Time) (decimal.Decimal, error) {
	names := make([]string, len(types))
	for i, tt := range types {
		names[i] = string(tt)
	}
	return t.sum(ctx, "transactions.sum_user_amounts",
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE user_id = $1 AND type = ANY($2) AND status = ANY($3) AND created_at >= $4 AND created_at < $5`,
		userID, pq.Array(names), pq.Array(statusStrings(countedStatuses)), from, to)
}

func (t *pgTx) SumAccountOutgoing(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error) {
	return t.sum(ctx, "transactions.sum_account_outgoing",
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		WHERE source_account_id = $1 AND status = ANY($2) AND created_at >= $3 AND created_at < $4`,
		accountID, pq.Array(statusStrings(countedStatuses)), from, to)
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	_, err := exec(ctx, t.tx, "transactions.insert",
		`INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35)`,
		txn.ID, txn.Reference, txn.Type, txn.UserID, nullString(txn.SourceAccountID), nullString(txn.DestinationAccountID),
		txn.Amount, txn.Currency, txn.Fee, txn.Tax, txn.TotalAmount, txn.HeldAmount, txn.Status, txn.Priority,
		txn.RequiresOTP, txn.OTPVerified, txn.OTPHash, nullTime(txn.OTPExpiresAt), txn.Description, txn.Narration,
		txn.RecipientName, txn.RecipientAccount, txn.RecipientBank, nullString(txn.BeneficiaryID), nullString(txn.IdempotencyKey),
		txn.Notes, txn.Meta.IPAddress, txn.Meta.UserAgent, txn.Meta.DeviceID, txn.CreatedAt,
		nullTime(txn.ProcessedAt), nullTime(txn.CompletedAt), txn.UpdatedAt,
		txn.OTPAttempts, txn.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", txn.Reference, err)
	}
	return nil
}

func (t *pgTx) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	res, err := exec(ctx, t.tx, "transactions.update",
		`UPDATE transactions SET status = $2, fee = $3, tax = $4, total_amount = $5, held_amount = $6,
			otp_verified = $7, otp_hash = $8, otp_expires_at = $9, notes = $10,
			processed_at = $11, completed_at = $12, updated_at = $13, otp_attempts = $14, version = $15
		WHERE id = $1`,
		txn.ID, txn.Status, txn.Fee, txn.Tax, txn.TotalAmount, txn.HeldAmount,
		txn.OTPVerified, txn.OTPHash, nullTime(txn.OTPExpiresAt), txn.Notes,
		nullTime(txn.ProcessedAt), nullTime(txn.CompletedAt), txn.UpdatedAt, txn.OTPAttempts, txn.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", txn.Reference, err)
	}
	return expectOne(res, "transaction "+txn.Reference)
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledgererr.ErrNotFound, what)
	}
	return nil
}

func (t *pgTx) AppendLog(ctx context.Context, l *models.TransactionLog) error {
	_, err := exec(ctx, t.tx, "transaction_logs.insert",
		`INSERT INTO transaction_logs (id, transaction_id, reference, action, old_status, new_status, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.TransactionID, l.Reference, l.Action, l.OldStatus, l.NewStatus, l.Details, l.IPAddress, l.UserAgent, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log for %s: %w", l.Reference, err)
	}
	return nil
}

func (t *pgTx) InsertAccount(ctx context.Context, a *models.Account) error {
	_, err := exec(ctx, t.tx, "accounts.insert",
		`INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		a.ID, a.UserID, a.AccountNumber, a.AccountName, a.AccountType, a.Currency,
		a.Balance, a.AvailableBalance, a.FrozenBalance, a.Status, a.DailyLimit, a.SingleTransactionLimit,
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *models.Account) error {
	res, err := exec(ctx, t.tx, "accounts.save",
		`UPDATE accounts SET balance = $2, available_balance = $3, frozen_balance = $4, status = $5,
			daily_limit = $6, single_transaction_limit = $7, version = $8, updated_at = $9
		WHERE id = $1`,
		a.ID, a.Balance, a.AvailableBalance, a.FrozenBalance, a.Status,
		a.DailyLimit, a.SingleTransactionLimit, a.Version, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return expectOne(res, "account "+a.ID)
}

func (t *pgTx) UpsertTransactionLimit(ctx context.Context, l *models.TransactionLimit) error {
	transfer := l.Categories[models.CategoryTransfer]
	withdrawal := l.Categories[models.CategoryWithdrawal]
	crypto := l.Categories[models.CategoryCrypto]
	_, err := exec(ctx, t.tx, "transaction_limits.upsert",
		`INSERT INTO transaction_limits (user_id, tier,
			single_transfer_limit, daily_transfer_limit, monthly_transfer_limit,
			single_withdrawal_limit, daily_withdrawal_limit, monthly_withdrawal_limit,
			single_crypto_limit, daily_crypto_limit, monthly_crypto_limit, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET tier = EXCLUDED.tier,
			single_transfer_limit = EXCLUDED.single_transfer_limit,
			daily_transfer_limit = EXCLUDED.daily_transfer_limit,
			monthly_transfer_limit = EXCLUDED.monthly_transfer_limit,
			single_withdrawal_limit = EXCLUDED.single_withdrawal_limit,
			daily_withdrawal_limit = EXCLUDED.daily_withdrawal_limit,
			monthly_withdrawal_limit = EXCLUDED.monthly_withdrawal_limit,
			single_crypto_limit = EXCLUDED.single_crypto_limit,
			daily_crypto_limit = EXCLUDED.daily_crypto_limit,
			monthly_crypto_limit = EXCLUDED.monthly_crypto_limit,
			updated_at = EXCLUDED.updated_at`,
		l.UserID, l.Tier,
		transfer.Single, transfer.Daily, transfer.Monthly,
		withdrawal.Single, withdrawal.Daily, withdrawal.Monthly,
		crypto.Single, crypto.Daily, crypto.Monthly, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction limit: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertSecuritySettings(ctx context.Context, s *models.SecuritySettings) error {
	_, err := exec(ctx, t.tx, "security_settings.upsert",
		`INSERT INTO security_settings (user_id, require_otp_for_transactions, transaction_threshold, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
			require_otp_for_transactions = EXCLUDED.require_otp_for_transactions,
			transaction_threshold = EXCLUDED.transaction_threshold,
			updated_at = EXCLUDED.updated_at`,
		s.UserID, s.RequireOTPForTransactions, s.TransactionThreshold, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert security settings: %w", err)
	}
	return nil
}

func (t *pgTx) InsertBeneficiary(ctx context.Context, b *models.Beneficiary) error {
	_, err := exec(ctx, t.tx, "beneficiaries.insert",
		`INSERT INTO beneficiaries (`+beneficiaryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.UserID, b.Name, b.AccountNumber, b.BankName, b.BeneficiaryType, b.Nickname,
		b.IsFavorite, b.UsageCount, nullTime(b.LastUsed), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert beneficiary: %w", err)
	}
	return nil
}

func (t *pgTx) TouchBeneficiary(ctx context.Context, id string, at time.Time) error {
	res, err := exec(ctx, t.tx, "beneficiaries.touch",
		`UPDATE beneficiaries SET usage_count = usage_count + 1, last_used = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch beneficiary: %w", err)
	}
	return expectOne(res, "beneficiary "+id)
}

func (t *pgTx) SaveSchedule(ctx context.Context, s *models.ScheduledTransaction) error {
	_, err := exec(ctx, t.tx, "scheduled_transactions.save",
		`INSERT INTO scheduled_transactions (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			next_execution = EXCLUDED.next_execution,
			execution_count = EXCLUDED.execution_count,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`,
		s.ID, s.UserID, s.SourceAccountID, nullString(s.DestinationAccountID), s.BeneficiaryName,
		s.BeneficiaryAccount, s.BeneficiaryBank, s.Amount, s.Description, s.Frequency, s.StartDate, nullTime(s.EndDate),
		s.NextExecution, s.ExecutionCount, nullInt(s.MaxExecutions), s.Status, s.CreatedAt, s.UpdatedAt, s.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}
