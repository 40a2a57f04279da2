package query

import (
	"context"
	"time"

	"github.com/Br41n7/Securebank/shared/cqrs"
	"github.com/Br41n7/Securebank/shared/models"
	"github.com/Br41n7/Securebank/transaction-service/internal/limits"
	"github.com/Br41n7/Securebank/transaction-service/internal/repository"
)

type ProfileProvider interface {
	FetchLimit(ctx context.Context, userID string) (*models.TransactionLimit, error)
	FetchSecuritySettings(ctx context.Context, userID string) (*models.SecuritySettings, error)
}

// LimitsView is a user's tier with current consumption per category.
type LimitsView struct {
	Tier       models.Tier            `json:"tier"`
	Categories []limits.CategoryUsage `json:"categories"`
}

type ProfileQueryService struct {
	store     repository.Store
	profiles  ProfileProvider
	evaluator *limits.Evaluator
	now       func() time.Time
}

func NewProfileQueryService(store repository.Store, profiles ProfileProvider, evaluator *limits.Evaluator) *ProfileQueryService {
	return &ProfileQueryService{
		store:     store,
		profiles:  profiles,
		evaluator: evaluator,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetLimits sums usage inside one store transaction so the daily and monthly
// figures come from the same snapshot.
func (s *ProfileQueryService) GetLimits(ctx context.Context, q cqrs.GetLimitsQuery) (*LimitsView, error) {
	limit, err := s.profiles.FetchLimit(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	var usage []limits.CategoryUsage
	err = s.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		usage, err = s.evaluator.Usage(ctx, tx, limit, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &LimitsView{Tier: limit.Tier, Categories: usage}, nil
}

func (s *ProfileQueryService) GetSecuritySettings(ctx context.Context, q cqrs.GetSecuritySettingsQuery) (*models.SecuritySettings, error) {
	return s.profiles.FetchSecuritySettings(ctx, q.UserID)
}

func (s *ProfileQueryService) ListBeneficiaries(ctx context.Context, q cqrs.ListBeneficiariesQuery) ([]models.Beneficiary, error) {
	return s.store.ListBeneficiaries(ctx, q.UserID)
}

func (s *ProfileQueryService) ListSchedules(ctx context.Context, q cqrs.ListSchedulesQuery) ([]models.ScheduledTransaction, error) {
	return s.store.ListSchedules(ctx, q.UserID)
}
