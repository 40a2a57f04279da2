package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Br41n7/Securebank/shared/ledgererr"
	"github.com/Br41n7/Securebank/shared/models"
	sharedredis "github.com/Br41n7/Securebank/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

const profileTTL = 5 * time.Minute

// ProfileReadRepository resolves a user's tier ceilings and security
// settings. Users with no stored row get the BASIC tier and default settings.
type ProfileReadRepository struct {
	store    Store
	limits   ViewCache[models.TransactionLimit]
	settings ViewCache[models.SecuritySettings]
}

func NewProfileReadRepository(store Store, redisClient *goredis.Client) *ProfileReadRepository {
	return &ProfileReadRepository{
		store:    store,
		limits:   sharedredis.NewViewCache[models.TransactionLimit](redisClient, "limits:", profileTTL),
		settings: sharedredis.NewViewCache[models.SecuritySettings](redisClient, "security:", profileTTL),
	}
}

func NewProfileReadRepositoryWithCache(store Store, limits ViewCache[models.TransactionLimit], settings ViewCache[models.SecuritySettings]) *ProfileReadRepository {
	return &ProfileReadRepository{store: store, limits: limits, settings: settings}
}

func (r *ProfileReadRepository) FetchLimit(ctx context.Context, userID string) (*models.TransactionLimit, error) {
	if l, ok := r.limits.Get(ctx, userID); ok {
		return l, nil
	}
	l, err := r.store.GetTransactionLimit(ctx, userID)
	if errors.Is(err, ledgererr.ErrNotFound) {
		l = models.DefaultTransactionLimit(userID, models.TierBasic)
	} else if err != nil {
		return nil, err
	}
	r.limits.Set(ctx, userID, l, stamp(l.UpdatedAt))
	return l, nil
}

func (r *ProfileReadRepository) FetchSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error) {
	if s, ok := r.settings.Get(ctx, userID); ok {
		return s, nil
	}
	s, err := r.store.GetSecuritySettings(ctx, userID)
	if errors.Is(err, ledgererr.ErrNotFound) {
		s = models.DefaultSecuritySettings(userID)
	} else if err != nil {
		return nil, err
	}
	r.settings.Set(ctx, userID, s, stamp(s.UpdatedAt))
	return s, nil
}

// CacheLimit writes a committed limit through to the cache. A concurrent
// read-through fill of an older row cannot overwrite it.
func (r *ProfileReadRepository) CacheLimit(ctx context.Context, l *models.TransactionLimit) {
	r.limits.Set(ctx, l.UserID, l, stamp(l.UpdatedAt))
}

func (r *ProfileReadRepository) CacheSecuritySettings(ctx context.Context, s *models.SecuritySettings) {
	r.settings.Set(ctx, s.UserID, s, stamp(s.UpdatedAt))
}

// stamp versions a profile row by its update time in microseconds, the
// precision Postgres keeps. Defaults that were never stored are version 0.
func stamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}
