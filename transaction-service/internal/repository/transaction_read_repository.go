package repository

import (
	"context"
	"time"

	"github.com/Br41n7/Securebank/shared/models"
	sharedredis "github.com/Br41n7/Securebank/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const (
	transactionViewKeyPrefix = "transaction:view:"
	transactionViewTTL       = 10 * time.Minute
)

// ViewCache is the subset of the Redis view cache the read side needs.
// Set must ignore a write whose version is below the cached one.
type ViewCache[T any] interface {
	Get(ctx context.Context, key string) (*T, bool)
	Set(ctx context.Context, key string, value *T, version int64)
	Delete(ctx context.Context, key string)
}

// CachedTransaction is the cached form of a view. The owner travels next to
// the view because TransactionView never serialises its UserID.
type CachedTransaction struct {
	models.TransactionView
	Owner string `json:"owner"`
}

// TransactionReadRepository serves transaction views from Redis, falling back
// to the store on a miss.
type TransactionReadRepository struct {
	store Store
	cache ViewCache[CachedTransaction]
}

func NewTransactionReadRepository(store Store, redisClient *goredis.Client) *TransactionReadRepository {
	return &TransactionReadRepository{
		store: store,
		cache: sharedredis.NewViewCache[CachedTransaction](redisClient, transactionViewKeyPrefix, transactionViewTTL),
	}
}

// NewTransactionReadRepositoryWithCache lets callers supply their own cache.
func NewTransactionReadRepositoryWithCache(store Store, cache ViewCache[CachedTransaction]) *TransactionReadRepository {
	return &TransactionReadRepository{store: store, cache: cache}
}

func (r *TransactionReadRepository) GetByReference(ctx context.Context, reference string) (*models.TransactionView, error) {
	if entry, ok := r.cache.Get(ctx, reference); ok {
		view := entry.TransactionView
		view.UserID = entry.Owner
		return &view, nil
	}
	txn, err := r.store.GetTransactionByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	view := txn.View()
	r.CacheTransactionView(ctx, view)
	return view, nil
}

// ListByAccount always reads the store; pages are not cached.
func (r *TransactionReadRepository) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.TransactionView, error) {
	txns, err := r.store.ListTransactionsByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]models.TransactionView, 0, len(txns))
	for i := range txns {
		views = append(views, *txns[i].View())
	}
	return views, nil
}

func (r *TransactionReadRepository) ListLogs(ctx context.Context, transactionID string) ([]models.TransactionLog, error) {
	return r.store.ListLogs(ctx, transactionID)
}

// CacheTransactionView refreshes the cached projection after a committed
// step. Views older than the cached one are dropped.
func (r *TransactionReadRepository) CacheTransactionView(ctx context.Context, view *models.TransactionView) {
	r.cache.Set(ctx, view.Reference, &CachedTransaction{TransactionView: *view, Owner: view.UserID}, view.Version)
}
