package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/repository"
	"github.com/lumenview/wallet-backend/internal/services"
)

// Jobs contains all scheduled job implementations
type Jobs struct {
	priceCache services.PriceCacheService
	repo       repository.TimeSeriesRepository
	logger     *zap.SugaredLogger
}

// NewJobs creates a new Jobs instance
func NewJobs(
	priceCache services.PriceCacheService,
	repo repository.TimeSeriesRepository,
	logger *zap.SugaredLogger,
) *Jobs {
	return &Jobs{
		priceCache: priceCache,
		repo:       repo,
		logger:     logger,
	}
}

// UpdateTokenPrices runs one full price update pass over every tracked
// token. The scheduler's overlap suppression keeps passes from running
// concurrently; the pass itself has no deadline since walking the whole
// catalog at 5s per batch is a long-running job.
func (j *Jobs) UpdateTokenPrices(ctx context.Context) error {
	return j.priceCache.UpdatePrices(ctx)
}

// BootstrapPriceCache initializes the price cache from the asset catalog
// unless a previous run already did.
func (j *Jobs) BootstrapPriceCache(ctx context.Context) error {
	initialized, err := j.repo.Initialized(ctx)
	if err != nil {
		return fmt.Errorf("read init flag: %w", err)
	}
	if initialized {
		j.logger.Debug("Price cache already initialized, skipping bootstrap")
		return nil
	}

	return j.priceCache.InitPriceCache(ctx)
}
