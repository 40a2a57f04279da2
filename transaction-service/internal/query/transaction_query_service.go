package query

import (
	"context"
	"fmt"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// TransactionQueryService serves transaction reads. An empty UserID on a
// query means an administrative caller and skips the ownership check.
type TransactionQueryService struct {
	readRepo *repository.TransactionReadRepository
	store    repository.Store
}

func NewTransactionQueryService(readRepo *repository.TransactionReadRepository, store repository.Store) *TransactionQueryService {
	return &TransactionQueryService{readRepo: readRepo, store: store}
}

func (s *TransactionQueryService) GetTransaction(ctx context.Context, q cqrs.GetTransactionQuery) (*models.TransactionView, error) {
	view, err := s.readRepo.GetByReference(ctx, q.Reference)
	if err != nil {
		return nil, err
	}
	if q.UserID != "" && view.UserID != q.UserID {
		return nil, fmt.Errorf("%w: transaction %s", ledgererr.ErrNotFound, q.Reference)
	}
	return view, nil
}

func (s *TransactionQueryService) ListTransactionLogs(ctx context.Context, q cqrs.ListTransactionLogsQuery) ([]models.TransactionLog, error) {
	view, err := s.GetTransaction(ctx, cqrs.GetTransactionQuery{Reference: q.Reference, UserID: q.UserID})
	if err != nil {
		return nil, err
	}
	return s.readRepo.ListLogs(ctx, view.ID)
}

// ListAccountTransactions pages through an account's transactions, newest first.
func (s *TransactionQueryService) ListAccountTransactions(ctx context.Context, q cqrs.ListAccountTransactionsQuery) ([]models.TransactionView, error) {
	account, err := s.store.GetAccount(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}
	if q.UserID != "" && account.UserID != q.UserID {
		return nil, fmt.Errorf("%w: account %s belongs to another user", ledgererr.ErrForbidden, q.AccountID)
	}
	limit, offset := pageBounds(q.Limit, q.Offset)
	return s.readRepo.ListByAccount(ctx, account.ID, limit, offset)
}

func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
