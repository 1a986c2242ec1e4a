package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/models"
	"github.com/lumenview/wallet-backend/internal/repository"
)

const (
	// tokenUpdateBatchSize bounds how many derivations run concurrently
	// inside one update batch.
	tokenUpdateBatchSize = 150

	// batchUpdateDelay spaces update batches to cap sustained QPS against
	// the path-finding endpoint.
	batchUpdateDelay = 5 * time.Second

	oneDayMS    = int64(24 * 60 * 60 * 1000)
	oneMinuteMS = int64(60 * 1000)
)

// priceCacheService implements PriceCacheService.
type priceCacheService struct {
	repo       repository.TimeSeriesRepository
	deriver    PriceDeriver
	catalog    CatalogClient
	batchDelay time.Duration
	logger     *zap.SugaredLogger
}

func NewPriceCacheService(
	repo repository.TimeSeriesRepository,
	deriver PriceDeriver,
	catalog CatalogClient,
	logger *zap.SugaredLogger,
) PriceCacheService {
	return &priceCacheService{
		repo:       repo,
		deriver:    deriver,
		catalog:    catalog,
		batchDelay: batchUpdateDelay,
		logger:     logger,
	}
}

// InitPriceCache walks the asset catalog and registers every token: series
// creation and the first popularity increment run in one pipeline. Prices
// are deliberately not populated here; the first update pass fills them,
// which keeps bootstrap cost bounded.
func (s *priceCacheService) InitPriceCache(ctx context.Context) error {
	if s.repo == nil {
		return ErrStoreUnavailable
	}

	tokens := s.catalog.FetchAllTokens(ctx)

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, models.NormalizeToken(token))
	}

	if err := s.repo.RegisterTokens(ctx, keys); err != nil {
		return fmt.Errorf("register tokens: %w", err)
	}

	if err := s.repo.MarkInitialized(ctx); err != nil {
		return fmt.Errorf("mark initialized: %w", err)
	}

	s.logger.Infow("Price cache initialized", "tokens", len(keys))
	return nil
}

// UpdatePrices refreshes every tracked token, most popular first, in
// batches. Callers must not overlap passes; the engine does not serialize
// them internally.
func (s *priceCacheService) UpdatePrices(ctx context.Context) error {
	if s.repo == nil {
		return ErrStoreUnavailable
	}

	keys, err := s.repo.TokensByPopularity(ctx)
	if err != nil {
		return fmt.Errorf("read popularity set: %w", err)
	}
	if len(keys) == 0 {
		return ErrEmptyCatalog
	}

	for start := 0; start < len(keys); start += tokenUpdateBatchSize {
		end := start + tokenUpdateBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		points := s.deriveBatch(ctx, batch)
		if len(points) == 0 {
			// A whole batch without a single price signals a systemic
			// upstream problem, not per-token flakiness.
			return fmt.Errorf("batch %d-%d: %w", start, end, ErrNoPrices)
		}

		if err := s.repo.MultiAddPoints(ctx, points); err != nil {
			return fmt.Errorf("append batch %d-%d: %w", start, end, err)
		}

		s.logger.Infow("Price batch updated",
			"requested", len(batch),
			"written", len(points),
			"progress", fmt.Sprintf("%d/%d", end, len(keys)),
		)

		if end < len(keys) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
	}

	return nil
}

// deriveBatch derives prices for every key concurrently, collecting the
// successes. Per-token failures are logged and skipped.
func (s *priceCacheService) deriveBatch(ctx context.Context, keys []string) []repository.SeriesPoint {
	var wg sync.WaitGroup
	var mu sync.Mutex
	points := make([]repository.SeriesPoint, 0, len(keys))

	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()

			point, err := s.deriver.CalculatePriceInUSD(ctx, key)
			if err != nil {
				s.logger.Warnw("Price derivation failed", "token", key, "error", err)
				return
			}

			mu.Lock()
			points = append(points, repository.SeriesPoint{Key: key, Point: point})
			mu.Unlock()
		}(key)
	}

	wg.Wait()
	return points
}

// GetPrice returns the current price and 24h change for a token, or nil
// when no price is available. Internal errors are logged, never surfaced.
func (s *priceCacheService) GetPrice(ctx context.Context, token string) *models.TokenPriceData {
	if s.repo == nil {
		s.logger.Error("Price cache has no store handle")
		return nil
	}

	key := models.NormalizeToken(token)

	latest, err := s.repo.Latest(ctx, key)
	if err != nil {
		// The series is missing (or the read failed): admit the token on
		// the spot.
		data, admitErr := s.admitToken(ctx, key)
		if admitErr != nil {
			s.logger.Errorw("Token admission failed", "token", key, "error", admitErr)
			return nil
		}
		return data
	}
	if latest == nil {
		// Series exists but holds no samples yet; the next update pass
		// will populate it.
		return nil
	}

	delta := s.change24h(ctx, key, latest)

	if err := s.repo.IncrPopularity(ctx, key); err != nil {
		s.logger.Warnw("Failed to count read", "token", key, "error", err)
	}

	return &models.TokenPriceData{
		CurrentPrice:             latest.Price,
		PercentagePriceChange24h: delta,
	}
}

// change24h computes ((latest − old) / old) × 100 against the sample
// closest to 24h before the latest point. The one-minute window absorbs
// jitter between ledger close times and the exact 24h-prior instant.
func (s *priceCacheService) change24h(ctx context.Context, key string, latest *models.PricePoint) *decimal.Decimal {
	dayAgo := latest.Timestamp - oneDayMS

	old, err := s.repo.RangeFirst(ctx, key, dayAgo, dayAgo+oneMinuteMS)
	if err != nil {
		s.logger.Warnw("Failed to read 24h sample", "token", key, "error", err)
		return nil
	}
	if old == nil || old.Price.IsZero() {
		return nil
	}

	delta := latest.Price.Sub(old.Price).
		DivRound(old.Price, divisionPrecision).
		Mul(decimal.NewFromInt(100))
	return &delta
}

// admitToken lazily admits a previously unseen token: derive a price,
// create its series, count it, and store the first sample. Derivation
// failures propagate; a token that cannot be priced is never admitted and
// never touches the popularity set.
func (s *priceCacheService) admitToken(ctx context.Context, key string) (*models.TokenPriceData, error) {
	point, err := s.deriver.CalculatePriceInUSD(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("derive price for %s: %w", key, err)
	}

	if err := s.repo.CreateSeries(ctx, key); err != nil {
		return nil, fmt.Errorf("create series for %s: %w", key, err)
	}
	if err := s.repo.IncrPopularity(ctx, key); err != nil {
		return nil, fmt.Errorf("count admission of %s: %w", key, err)
	}
	if err := s.repo.AddPoint(ctx, key, point); err != nil {
		return nil, fmt.Errorf("store first sample of %s: %w", key, err)
	}

	// No prior sample can exist for a just-admitted token.
	return &models.TokenPriceData{
		CurrentPrice:             point.Price,
		PercentagePriceChange24h: nil,
	}, nil
}
