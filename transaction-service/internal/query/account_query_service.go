package query

import (
	"context"
	"fmt"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
)

// AccountQueryService reads balances straight from the store; they change
// with every posting so there is no view cache in front of them.
type AccountQueryService struct {
	store repository.Store
}

func NewAccountQueryService(store repository.Store) *AccountQueryService {
	return &AccountQueryService{store: store}
}

func (s *AccountQueryService) GetAccount(ctx context.Context, q cqrs.GetAccountQuery) (*models.AccountView, error) {
	account, err := s.store.GetAccount(ctx, q.AccountID)
	if err != nil {
		return nil, err
	}
	if q.RequestingUserID != "" && account.UserID != q.RequestingUserID {
		return nil, fmt.Errorf("%w: account %s belongs to another user", ledgererr.ErrForbidden, q.AccountID)
	}
	return account.View(), nil
}

func (s *AccountQueryService) ListAccounts(ctx context.Context, q cqrs.ListAccountsQuery) ([]models.AccountView, error) {
	accounts, err := s.store.ListAccountsByUser(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]models.AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, *accounts[i].View())
	}
	return views, nil
}
