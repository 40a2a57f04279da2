package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store for tests and local development. Row
// locks are keyed mutexes so steps on different accounts run in parallel;
// writes are buffered per transaction and applied atomically on commit.
type MemoryStore struct {
	locks keyedLocks

	mu             sync.RWMutex
	accounts       map[string]models.Account
	accountNumbers map[string]string
	transactions   map[string]models.Transaction
	references     map[string]string
	idempotency    map[string]string
	logs           map[string][]models.TransactionLog
	limits         map[string]models.TransactionLimit
	security       map[string]models.SecuritySettings
	beneficiaries  map[string]models.Beneficiary
	schedules      map[string]models.ScheduledTransaction

	faultMu sync.Mutex
	fault   func(op string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks:          keyedLocks{slots: make(map[string]chan struct{})},
		accounts:       make(map[string]models.Account),
		accountNumbers: make(map[string]string),
		transactions:   make(map[string]models.Transaction),
		references:     make(map[string]string),
		idempotency:    make(map[string]string),
		logs:           make(map[string][]models.TransactionLog),
		limits:         make(map[string]models.TransactionLimit),
		security:       make(map[string]models.SecuritySettings),
		beneficiaries:  make(map[string]models.Beneficiary),
		schedules:      make(map[string]models.ScheduledTransaction),
	}
}

// InjectFault makes every store transaction consult fn at "begin" and
// "commit". A non-nil return aborts the transaction with that error.
func (s *MemoryStore) InjectFault(fn func(op string) error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.fault = fn
}

func (s *MemoryStore) checkFault(op string) error {
	s.faultMu.Lock()
	fn := s.fault
	s.faultMu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.checkFault("begin"); err != nil {
		return err
	}
	tx := newMemTx(s)
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ledgererr.ErrStorageUnavailable, err)
	}
	if err := s.checkFault("commit"); err != nil {
		return err
	}
	return tx.commit()
}

func idempotencyKey(userID, key string) string {
	return userID + "|" + key
}

func beneficiaryKey(b models.Beneficiary) string {
	return b.UserID + "|" + b.AccountNumber + "|" + b.BankName
}

func cloneLimit(l models.TransactionLimit) models.TransactionLimit {
	cats := make(map[models.LimitCategory]models.Ceilings, len(l.Categories))
	for k, v := range l.Categories {
		cats[k] = v
	}
	l.Categories = cats
	return l
}

func (s *MemoryStore) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.references[reference]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, reference)
	}
	t := s.transactions[id]
	return &t, nil
}

func (s *MemoryStore) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idempotency[idempotencyKey(userID, key)]
	if !ok {
		return nil, fmt.Errorf("%w: idempotency key %s", ledgererr.ErrNotFound, key)
	}
	t := s.transactions[id]
	return &t, nil
}

func (s *MemoryStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.references[reference]
	return ok, nil
}

func (s *MemoryStore) ListTransactionsByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	s.mu.RLock()
	var out []models.Transaction
	for _, t := range s.transactions {
		if t.SourceAccountID == accountID || t.DestinationAccountID == accountID {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Reference > out[j].Reference
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (s *MemoryStore) ListLogs(ctx context.Context, transactionID string) ([]models.TransactionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	logs := s.logs[transactionID]
	out := make([]models.TransactionLog, len(logs))
	copy(out, logs)
	return out, nil
}

func (s *MemoryStore) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	var out []models.Transaction
	for _, t := range s.transactions {
		if t.Status == models.StatusProcessing && processingSince(t).Before(cutoff) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return processingSince(out[i]).Before(processingSince(out[j])) })
	return page(out, limit, 0), nil
}

func processingSince(t models.Transaction) time.Time {
	if t.ProcessedAt != nil {
		return *t.ProcessedAt
	}
	return t.UpdatedAt
}

func (s *MemoryStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ledgererr.ErrNotFound, accountID)
	}
	return &a, nil
}

func (s *MemoryStore) ListAccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	s.mu.RLock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetTransactionLimit(ctx context.Context, userID string) (*models.TransactionLimit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.limits[userID]
	if !ok {
		return nil, fmt.Errorf("%w: transaction limit for %s", ledgererr.ErrNotFound, userID)
	}
	l = cloneLimit(l)
	return &l, nil
}

func (s *MemoryStore) GetSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.security[userID]
	if !ok {
		return nil, fmt.Errorf("%w: security settings for %s", ledgererr.ErrNotFound, userID)
	}
	return &st, nil
}

func (s *MemoryStore) GetBeneficiary(ctx context.Context, id string) (*models.Beneficiary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beneficiaries[id]
	if !ok {
		return nil, fmt.Errorf("%w: beneficiary %s", ledgererr.ErrNotFound, id)
	}
	return &b, nil
}

func (s *MemoryStore) ListBeneficiaries(ctx context.Context, userID string) ([]models.Beneficiary, error) {
	s.mu.RLock()
	var out []models.Beneficiary
	for _, b := range s.beneficiaries {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsFavorite != out[j].IsFavorite {
			return out[i].IsFavorite
		}
		return out[i].UsageCount > out[j].UsageCount
	})
	return out, nil
}

func (s *MemoryStore) ListSchedules(ctx context.Context, userID string) ([]models.ScheduledTransaction, error) {
	s.mu.RLock()
	var out []models.ScheduledTransaction
	for _, sc := range s.schedules {
		if sc.UserID == userID {
			out = append(out, sc)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecution.Before(out[j].NextExecution) })
	return out, nil
}

func (s *MemoryStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]models.ScheduledTransaction, error) {
	s.mu.RLock()
	var out []models.ScheduledTransaction
	for _, sc := range s.schedules {
		if sc.Due(now) {
			out = append(out, sc)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecution.Before(out[j].NextExecution) })
	return page(out, limit, 0), nil
}

// keyedLocks hands out one context-aware mutex per key.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func (l *keyedLocks) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	l.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for lock %s: %v", ledgererr.ErrStorageUnavailable, key, ctx.Err())
	}
}

func (l *keyedLocks) release(key string) {
	l.mu.Lock()
	slot := l.slots[key]
	l.mu.Unlock()
	<-slot
}

type memTx struct {
	s    *MemoryStore
	held []string
	has  map[string]bool

	accounts         map[string]models.Account
	newAccounts      map[string]bool
	txns             map[string]models.Transaction
	newTxns          map[string]bool
	logs             []models.TransactionLog
	limits           map[string]models.TransactionLimit
	security         map[string]models.SecuritySettings
	newBeneficiaries map[string]models.Beneficiary
	touched          map[string]time.Time
	schedules        map[string]models.ScheduledTransaction
}

func newMemTx(s *MemoryStore) *memTx {
	return &memTx{
		s:                s,
		has:              make(map[string]bool),
		accounts:         make(map[string]models.Account),
		newAccounts:      make(map[string]bool),
		txns:             make(map[string]models.Transaction),
		newTxns:          make(map[string]bool),
		limits:           make(map[string]models.TransactionLimit),
		security:         make(map[string]models.SecuritySettings),
		newBeneficiaries: make(map[string]models.Beneficiary),
		touched:          make(map[string]time.Time),
		schedules:        make(map[string]models.ScheduledTransaction),
	}
}

func (tx *memTx) lock(ctx context.Context, key string) error {
	if tx.has[key] {
		return nil
	}
	if err := tx.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	tx.has[key] = true
	tx.held = append(tx.held, key)
	return nil
}

func (tx *memTx) releaseAll() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.s.locks.release(tx.held[i])
	}
	tx.held = nil
}

func (tx *memTx) transactionID(reference string) (string, bool) {
	for id, t := range tx.txns {
		if t.Reference == reference {
			return id, true
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	id, ok := tx.s.references[reference]
	return id, ok
}

func (tx *memTx) readTransaction(id string) (models.Transaction, bool) {
	if t, ok := tx.txns[id]; ok {
		return t, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	t, ok := tx.s.transactions[id]
	return t, ok
}

func (tx *memTx) LockTransaction(ctx context.Context, reference string) (*models.Transaction, error) {
	id, ok := tx.transactionID(reference)
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, reference)
	}
	if err := tx.lock(ctx, "txn:"+id); err != nil {
		return nil, err
	}
	t, ok := tx.readTransaction(id)
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, reference)
	}
	return &t, nil
}

func (tx *memTx) LockUserWindow(ctx context.Context, userID string) error {
	return tx.lock(ctx, "user:"+userID)
}

func (tx *memTx) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if err := tx.lock(ctx, "acct:"+accountID); err != nil {
		return nil, err
	}
	if a, ok := tx.accounts[accountID]; ok {
		return &a, nil
	}
	tx.s.mu.RLock()
	a, ok := tx.s.accounts[accountID]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ledgererr.ErrNotFound, accountID)
	}
	return &a, nil
}

// visible calls fn for every transaction as this tx sees it.
func (tx *memTx) visible(fn func(t models.Transaction)) {
	tx.s.mu.RLock()
	for id, t := range tx.s.transactions {
		if buffered, ok := tx.txns[id]; ok {
			t = buffered
		}
		fn(t)
	}
	tx.s.mu.RUnlock()
	for id := range tx.newTxns {
		fn(tx.txns[id])
	}
}

func inWindow(t time.Time, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func (tx *memTx) SumUserAmounts(ctx context.Context, userID string, types []models.TransactionType, from, to time.Time) (decimal.Decimal, error) {
	want := make(map[models.TransactionType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	total := decimal.Zero
	tx.visible(func(t models.Transaction) {
		if t.UserID == userID && want[t.Type] && counted(t.Status) && inWindow(t.CreatedAt, from, to) {
			total = total.Add(t.Amount)
		}
	})
	return total, nil
}

func (tx *memTx) SumAccountOutgoing(ctx context.Context, accountID string, from, to time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	tx.visible(func(t models.Transaction) {
		if t.SourceAccountID == accountID && counted(t.Status) && inWindow(t.CreatedAt, from, to) {
			total = total.Add(t.Amount)
		}
	})
	return total, nil
}

func (tx *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, ok := tx.transactionID(txn.Reference); ok {
		return fmt.Errorf("%w: %s", ledgererr.ErrDuplicateReference, txn.Reference)
	}
	if txn.IdempotencyKey != "" {
		key := idempotencyKey(txn.UserID, txn.IdempotencyKey)
		for id := range tx.newTxns {
			if t := tx.txns[id]; idempotencyKey(t.UserID, t.IdempotencyKey) == key {
				return ErrIdempotencyKeyTaken
			}
		}
		tx.s.mu.RLock()
		_, taken := tx.s.idempotency[key]
		tx.s.mu.RUnlock()
		if taken {
			return ErrIdempotencyKeyTaken
		}
	}
	tx.has["txn:"+txn.ID] = true
	tx.txns[txn.ID] = *txn
	tx.newTxns[txn.ID] = true
	return nil
}

func (tx *memTx) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, ok := tx.readTransaction(txn.ID); !ok {
		return fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, txn.Reference)
	}
	tx.txns[txn.ID] = *txn
	return nil
}

func (tx *memTx) AppendLog(ctx context.Context, log *models.TransactionLog) error {
	tx.logs = append(tx.logs, *log)
	return nil
}

func (tx *memTx) InsertAccount(ctx context.Context, account *models.Account) error {
	tx.s.mu.RLock()
	_, taken := tx.s.accountNumbers[account.AccountNumber]
	tx.s.mu.RUnlock()
	if taken {
		return fmt.Errorf("%w: account number %s", ledgererr.ErrConflict, account.AccountNumber)
	}
	tx.accounts[account.ID] = *account
	tx.newAccounts[account.ID] = true
	return nil
}

func (tx *memTx) SaveAccount(ctx context.Context, account *models.Account) error {
	if !tx.has["acct:"+account.ID] && !tx.newAccounts[account.ID] {
		return fmt.Errorf("account %s saved without holding its lock", account.ID)
	}
	tx.accounts[account.ID] = *account
	return nil
}

func (tx *memTx) UpsertTransactionLimit(ctx context.Context, limit *models.TransactionLimit) error {
	tx.limits[limit.UserID] = cloneLimit(*limit)
	return nil
}

func (tx *memTx) UpsertSecuritySettings(ctx context.Context, settings *models.SecuritySettings) error {
	tx.security[settings.UserID] = *settings
	return nil
}

func (tx *memTx) InsertBeneficiary(ctx context.Context, b *models.Beneficiary) error {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for _, existing := range tx.s.beneficiaries {
		if beneficiaryKey(existing) == beneficiaryKey(*b) {
			return fmt.Errorf("%w: beneficiary %s at %s", ledgererr.ErrConflict, b.AccountNumber, b.BankName)
		}
	}
	tx.newBeneficiaries[b.ID] = *b
	return nil
}

func (tx *memTx) TouchBeneficiary(ctx context.Context, id string, at time.Time) error {
	tx.s.mu.RLock()
	_, ok := tx.s.beneficiaries[id]
	tx.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: beneficiary %s", ledgererr.ErrNotFound, id)
	}
	tx.touched[id] = at
	return nil
}

func (tx *memTx) SaveSchedule(ctx context.Context, sc *models.ScheduledTransaction) error {
	tx.schedules[sc.ID] = *sc
	return nil
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.newTxns {
		t := tx.txns[id]
		if _, ok := s.references[t.Reference]; ok {
			return fmt.Errorf("%w: %s", ledgererr.ErrDuplicateReference, t.Reference)
		}
		if t.IdempotencyKey != "" {
			if _, ok := s.idempotency[idempotencyKey(t.UserID, t.IdempotencyKey)]; ok {
				return ErrIdempotencyKeyTaken
			}
		}
	}
	for id := range tx.newAccounts {
		if _, ok := s.accountNumbers[tx.accounts[id].AccountNumber]; ok {
			return fmt.Errorf("%w: account number %s", ledgererr.ErrConflict, tx.accounts[id].AccountNumber)
		}
	}
	for _, b := range tx.newBeneficiaries {
		for _, existing := range s.beneficiaries {
			if beneficiaryKey(existing) == beneficiaryKey(b) {
				return fmt.Errorf("%w: beneficiary %s at %s", ledgererr.ErrConflict, b.AccountNumber, b.BankName)
			}
		}
	}

	for id, a := range tx.accounts {
		s.accounts[id] = a
		s.accountNumbers[a.AccountNumber] = id
	}
	for id, t := range tx.txns {
		s.transactions[id] = t
		s.references[t.Reference] = id
		if t.IdempotencyKey != "" {
			s.idempotency[idempotencyKey(t.UserID, t.IdempotencyKey)] = id
		}
	}
	for _, l := range tx.logs {
		s.logs[l.TransactionID] = append(s.logs[l.TransactionID], l)
	}
	for id, l := range tx.limits {
		s.limits[id] = l
	}
	for id, st := range tx.security {
		s.security[id] = st
	}
	for id, b := range tx.newBeneficiaries {
		s.beneficiaries[id] = b
	}
	for id, at := range tx.touched {
		b := s.beneficiaries[id]
		b.UsageCount++
		b.LastUsed = &at
		s.beneficiaries[id] = b
	}
	for id, sc := range tx.schedules {
		s.schedules[id] = sc
	}
	return nil
}
