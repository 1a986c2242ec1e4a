package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/models"
)

const (
	// TokenCounterKey is the sorted set ranking tokens by read count.
	TokenCounterKey = "token_counter"

	// InitializedKey holds "true" once the initial catalog bootstrap completed.
	InitializedKey = "price_cache_initialized"

	// PriceCacheLabel tags every price series so they can be group-queried
	// with TS.MRANGE by other parts of the service.
	PriceCacheLabel = "ts:price"

	// retentionMS bounds every series to a rolling 24h window; older
	// samples are expired by the store itself.
	retentionMS = 24 * 60 * 60 * 1000
)

// SeriesPoint pairs a series key with one sample for bulk appends.
type SeriesPoint struct {
	Key   string
	Point models.PricePoint
}

// TimeSeriesRepository wraps the RedisTimeSeries surface used by the price
// cache: per-token series plus the popularity sorted set and the
// initialization flag.
type TimeSeriesRepository interface {
	// CreateSeries creates the series for key with the standard retention,
	// duplicate policy and label. Re-creating an existing series is not an
	// error.
	CreateSeries(ctx context.Context, key string) error

	// AddPoint appends a single sample to an existing series.
	AddPoint(ctx context.Context, key string, point models.PricePoint) error

	// MultiAddPoints appends one sample to each of the given series in a
	// single atomic store operation.
	MultiAddPoints(ctx context.Context, points []SeriesPoint) error

	// Latest returns the newest sample of a series. A series that exists
	// but holds no samples yields (nil, nil); a missing series or a store
	// failure yields a non-nil error.
	Latest(ctx context.Context, key string) (*models.PricePoint, error)

	// RangeFirst returns the first sample inside the inclusive window
	// [fromMS, toMS], or (nil, nil) if the window is empty.
	RangeFirst(ctx context.Context, key string, fromMS, toMS int64) (*models.PricePoint, error)

	// IncrPopularity bumps the token's read counter by one.
	IncrPopularity(ctx context.Context, key string) error

	// TokensByPopularity returns every tracked token key, most read first.
	TokensByPopularity(ctx context.Context) ([]string, error)

	// RegisterTokens creates the series and bumps the popularity counter
	// for each key in one pipelined round-trip. Per-key failures are
	// logged and do not abort the batch.
	RegisterTokens(ctx context.Context, keys []string) error

	// Initialized reports whether the bootstrap flag has been set.
	Initialized(ctx context.Context) (bool, error)

	// MarkInitialized sets the bootstrap flag.
	MarkInitialized(ctx context.Context) error

	// Ping checks store liveness.
	Ping(ctx context.Context) error
}

// redisTimeSeriesRepository implements TimeSeriesRepository on top of a
// Redis server with the RedisTimeSeries module.
type redisTimeSeriesRepository struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

func NewTimeSeriesRepository(client *redis.Client, logger *zap.SugaredLogger) TimeSeriesRepository {
	return &redisTimeSeriesRepository{
		client: client,
		logger: logger,
	}
}

func seriesOptions() *redis.TSOptions {
	return &redis.TSOptions{
		Retention:       retentionMS,
		DuplicatePolicy: "LAST",
		Labels:          map[string]string{PriceCacheLabel: PriceCacheLabel},
	}
}

// seriesExists matches the module's error for TS.CREATE on an existing key.
func seriesExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func (r *redisTimeSeriesRepository) CreateSeries(ctx context.Context, key string) error {
	err := r.client.TSCreateWithArgs(ctx, key, seriesOptions()).Err()
	if seriesExists(err) {
		r.logger.Debugw("Series already exists", "key", key)
		return nil
	}
	if err != nil {
		r.logger.Errorw("Failed to create series", "key", key, "error", err)
		return fmt.Errorf("create series %s: %w", key, err)
	}
	return nil
}

func (r *redisTimeSeriesRepository) AddPoint(ctx context.Context, key string, point models.PricePoint) error {
	if err := r.client.TSAdd(ctx, key, point.Timestamp, point.Price.InexactFloat64()).Err(); err != nil {
		r.logger.Errorw("Failed to add point", "key", key, "timestamp", point.Timestamp, "error", err)
		return fmt.Errorf("add point to %s: %w", key, err)
	}
	return nil
}

func (r *redisTimeSeriesRepository) MultiAddPoints(ctx context.Context, points []SeriesPoint) error {
	if len(points) == 0 {
		return errors.New("multi add: no points")
	}

	ktvSlices := make([][]interface{}, 0, len(points))
	for _, p := range points {
		ktvSlices = append(ktvSlices, []interface{}{p.Key, p.Point.Timestamp, p.Point.Price.InexactFloat64()})
	}

	if err := r.client.TSMAdd(ctx, ktvSlices).Err(); err != nil {
		r.logger.Errorw("Failed to multi-add points", "count", len(points), "error", err)
		return fmt.Errorf("multi add %d points: %w", len(points), err)
	}
	return nil
}

func (r *redisTimeSeriesRepository) Latest(ctx context.Context, key string) (*models.PricePoint, error) {
	value, err := r.client.TSGet(ctx, key).Result()
	if err != nil {
		// An existing series with no samples yields an empty reply; a
		// missing series is a hard error the caller uses to trigger
		// admission.
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest value of %s: %w", key, err)
	}
	if value.Timestamp == 0 {
		// Empty reply decoded as a zero value; ledger close times are
		// never zero.
		return nil, nil
	}

	return &models.PricePoint{
		Timestamp: value.Timestamp,
		Price:     decimal.NewFromFloat(value.Value),
	}, nil
}

func (r *redisTimeSeriesRepository) RangeFirst(ctx context.Context, key string, fromMS, toMS int64) (*models.PricePoint, error) {
	values, err := r.client.TSRangeWithArgs(ctx, key, int(fromMS), int(toMS), &redis.TSRangeOptions{
		Count: 1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("range of %s: %w", key, err)
	}
	if len(values) == 0 {
		return nil, nil
	}

	return &models.PricePoint{
		Timestamp: values[0].Timestamp,
		Price:     decimal.NewFromFloat(values[0].Value),
	}, nil
}

func (r *redisTimeSeriesRepository) IncrPopularity(ctx context.Context, key string) error {
	if err := r.client.ZIncrBy(ctx, TokenCounterKey, 1, key).Err(); err != nil {
		r.logger.Errorw("Failed to increment popularity", "key", key, "error", err)
		return fmt.Errorf("increment popularity of %s: %w", key, err)
	}
	return nil
}

func (r *redisTimeSeriesRepository) TokensByPopularity(ctx context.Context) ([]string, error) {
	keys, err := r.client.ZRevRange(ctx, TokenCounterKey, 0, -1).Result()
	if err != nil {
		r.logger.Errorw("Failed to read popularity set", "error", err)
		return nil, fmt.Errorf("read popularity set: %w", err)
	}
	return keys, nil
}

func (r *redisTimeSeriesRepository) RegisterTokens(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.TSCreateWithArgs(ctx, key, seriesOptions())
		pipe.ZIncrBy(ctx, TokenCounterKey, 1, key)
	}

	cmds, execErr := pipe.Exec(ctx)
	if len(cmds) == 0 && execErr != nil {
		r.logger.Errorw("Failed to register tokens", "count", len(keys), "error", execErr)
		return fmt.Errorf("register %d tokens: %w", len(keys), execErr)
	}

	for _, cmd := range cmds {
		if err := cmd.Err(); err != nil && !seriesExists(err) {
			r.logger.Warnw("Token registration command failed", "args", cmd.Args(), "error", err)
		}
	}
	return nil
}

func (r *redisTimeSeriesRepository) Initialized(ctx context.Context) (bool, error) {
	value, err := r.client.Get(ctx, InitializedKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read init flag: %w", err)
	}
	return value == "true", nil
}

func (r *redisTimeSeriesRepository) MarkInitialized(ctx context.Context) error {
	if err := r.client.Set(ctx, InitializedKey, "true", 0).Err(); err != nil {
		r.logger.Errorw("Failed to set init flag", "error", err)
		return fmt.Errorf("set init flag: %w", err)
	}
	return nil
}

func (r *redisTimeSeriesRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
