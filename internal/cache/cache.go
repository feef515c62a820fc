package cache

import (
	"context"
	"time"

	"swarnapos/backend/internal/domain"
)

// BalanceCache is a read cache for derived customer balances. The bill
// list stays authoritative; the cache only serves repeated reads and is
// invalidated on every dataset mutation.
type BalanceCache interface {
	Get(ctx context.Context, key string) ([]domain.CustomerBalance, bool, error)
	Set(ctx context.Context, key string, balances []domain.CustomerBalance, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopBalanceCache struct{}

func (NoopBalanceCache) Get(_ context.Context, _ string) ([]domain.CustomerBalance, bool, error) {
	return nil, false, nil
}

func (NoopBalanceCache) Set(_ context.Context, _ string, _ []domain.CustomerBalance, _ time.Duration) error {
	return nil
}

func (NoopBalanceCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
