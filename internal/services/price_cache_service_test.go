package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/models"
	"github.com/lumenview/wallet-backend/internal/repository"
)

// fakeTimeSeriesRepo implements repository.TimeSeriesRepository in memory.
// A read of a key without a created series errors, mirroring the store's
// behavior for missing keys.
type fakeTimeSeriesRepo struct {
	series      map[string][]models.PricePoint
	popularity  map[string]float64
	initialized bool
	multiAdds   [][]repository.SeriesPoint

	latestErr   map[string]error
	popIncrErr  error
	popReadErr  error
	multiAddErr error
}

func newFakeRepo() *fakeTimeSeriesRepo {
	return &fakeTimeSeriesRepo{
		series:     make(map[string][]models.PricePoint),
		popularity: make(map[string]float64),
		latestErr:  make(map[string]error),
	}
}

func (f *fakeTimeSeriesRepo) createSeries(key string, points ...models.PricePoint) {
	f.series[key] = append(f.series[key], points...)
}

func (f *fakeTimeSeriesRepo) CreateSeries(_ context.Context, key string) error {
	if _, ok := f.series[key]; !ok {
		f.series[key] = []models.PricePoint{}
	}
	return nil
}

func (f *fakeTimeSeriesRepo) AddPoint(_ context.Context, key string, point models.PricePoint) error {
	if _, ok := f.series[key]; !ok {
		return fmt.Errorf("series %s does not exist", key)
	}
	f.series[key] = append(f.series[key], point)
	return nil
}

func (f *fakeTimeSeriesRepo) MultiAddPoints(_ context.Context, points []repository.SeriesPoint) error {
	if f.multiAddErr != nil {
		return f.multiAddErr
	}
	if len(points) == 0 {
		return errors.New("multi add: no points")
	}
	f.multiAdds = append(f.multiAdds, points)
	for _, p := range points {
		f.series[p.Key] = append(f.series[p.Key], p.Point)
	}
	return nil
}

func (f *fakeTimeSeriesRepo) Latest(_ context.Context, key string) (*models.PricePoint, error) {
	if err, ok := f.latestErr[key]; ok {
		return nil, err
	}
	points, ok := f.series[key]
	if !ok {
		return nil, fmt.Errorf("series %s does not exist", key)
	}
	if len(points) == 0 {
		return nil, nil
	}
	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp >= latest.Timestamp {
			latest = p
		}
	}
	return &latest, nil
}

func (f *fakeTimeSeriesRepo) RangeFirst(_ context.Context, key string, fromMS, toMS int64) (*models.PricePoint, error) {
	points := append([]models.PricePoint(nil), f.series[key]...)
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
	for _, p := range points {
		if p.Timestamp >= fromMS && p.Timestamp <= toMS {
			point := p
			return &point, nil
		}
	}
	return nil, nil
}

func (f *fakeTimeSeriesRepo) IncrPopularity(_ context.Context, key string) error {
	if f.popIncrErr != nil {
		return f.popIncrErr
	}
	f.popularity[key]++
	return nil
}

func (f *fakeTimeSeriesRepo) TokensByPopularity(_ context.Context) ([]string, error) {
	if f.popReadErr != nil {
		return nil, f.popReadErr
	}
	keys := make([]string, 0, len(f.popularity))
	for key := range f.popularity {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if f.popularity[keys[i]] != f.popularity[keys[j]] {
			return f.popularity[keys[i]] > f.popularity[keys[j]]
		}
		return keys[i] < keys[j]
	})
	return keys, nil
}

func (f *fakeTimeSeriesRepo) RegisterTokens(ctx context.Context, keys []string) error {
	for _, key := range keys {
		_ = f.CreateSeries(ctx, key)
		f.popularity[key]++
	}
	return nil
}

func (f *fakeTimeSeriesRepo) Initialized(_ context.Context) (bool, error) {
	return f.initialized, nil
}

func (f *fakeTimeSeriesRepo) MarkInitialized(_ context.Context) error {
	f.initialized = true
	return nil
}

func (f *fakeTimeSeriesRepo) Ping(_ context.Context) error {
	return nil
}

// fakePriceDeriver returns canned results per token.
type fakePriceDeriver struct {
	points map[string]models.PricePoint
	errs   map[string]error
	calls  []string
}

func (f *fakePriceDeriver) CalculatePriceInUSD(_ context.Context, token string) (models.PricePoint, error) {
	f.calls = append(f.calls, token)
	if err, ok := f.errs[token]; ok {
		return models.PricePoint{}, err
	}
	if point, ok := f.points[token]; ok {
		return point, nil
	}
	return models.PricePoint{}, fmt.Errorf("%s: %w", token, ErrNoPaths)
}

// fakeCatalogClient returns a fixed token list.
type fakeCatalogClient struct {
	tokens []string
}

func (f *fakeCatalogClient) FetchAllTokens(_ context.Context) []string {
	return f.tokens
}

func newTestCacheService(repo repository.TimeSeriesRepository, deriver PriceDeriver, catalog CatalogClient) *priceCacheService {
	return &priceCacheService{
		repo:       repo,
		deriver:    deriver,
		catalog:    catalog,
		batchDelay: 0,
		logger:     zap.NewNop().Sugar(),
	}
}

func pricePoint(ts int64, price string) models.PricePoint {
	return models.PricePoint{Timestamp: ts, Price: decimal.RequireFromString(price)}
}

const baseTS = int64(1_700_000_000_000)

func TestGetPrice_ColdReadUnknownToken(t *testing.T) {
	repo := newFakeRepo()
	deriver := &fakePriceDeriver{points: map[string]models.PricePoint{
		"ABC:GXYZ": pricePoint(baseTS, "0.25"),
	}}
	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "ABC:GXYZ")
	require.NotNil(t, data)
	assert.True(t, data.CurrentPrice.Equal(decimal.RequireFromString("0.25")))
	assert.Nil(t, data.PercentagePriceChange24h)

	// Series created, first sample stored, admission counted once.
	require.Contains(t, repo.series, "ABC:GXYZ")
	require.Len(t, repo.series["ABC:GXYZ"], 1)
	assert.Equal(t, float64(1), repo.popularity["ABC:GXYZ"])
}

func TestGetPrice_WarmReadWith24hSample(t *testing.T) {
	repo := newFakeRepo()
	repo.createSeries("XLM",
		pricePoint(baseTS-oneDayMS, "0.10"),
		pricePoint(baseTS, "0.12"),
	)
	svc := newTestCacheService(repo, &fakePriceDeriver{}, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "native")
	require.NotNil(t, data)
	assert.True(t, data.CurrentPrice.Equal(decimal.RequireFromString("0.12")))
	require.NotNil(t, data.PercentagePriceChange24h)
	assert.True(t, data.PercentagePriceChange24h.Equal(decimal.NewFromInt(20)),
		"got %s", data.PercentagePriceChange24h)

	// The read was counted under the normalized key.
	assert.Equal(t, float64(1), repo.popularity["XLM"])
	assert.Zero(t, repo.popularity["native"])
}

func TestGetPrice_WarmReadWithout24hSample(t *testing.T) {
	repo := newFakeRepo()
	repo.createSeries("XLM", pricePoint(baseTS, "0.12"))
	svc := newTestCacheService(repo, &fakePriceDeriver{}, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "XLM")
	require.NotNil(t, data)
	assert.True(t, data.CurrentPrice.Equal(decimal.RequireFromString("0.12")))
	assert.Nil(t, data.PercentagePriceChange24h)
}

func TestGetPrice_OldValueZeroYieldsNilDelta(t *testing.T) {
	repo := newFakeRepo()
	repo.createSeries("XLM",
		pricePoint(baseTS-oneDayMS, "0"),
		pricePoint(baseTS, "0.12"),
	)
	svc := newTestCacheService(repo, &fakePriceDeriver{}, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "XLM")
	require.NotNil(t, data)
	assert.Nil(t, data.PercentagePriceChange24h)
}

func TestGetPrice_SampleOutsideWindowIgnored(t *testing.T) {
	repo := newFakeRepo()
	// 2 minutes past the 24h-prior instant: outside the 1-minute window.
	repo.createSeries("XLM",
		pricePoint(baseTS-oneDayMS+2*oneMinuteMS, "0.10"),
		pricePoint(baseTS, "0.12"),
	)
	svc := newTestCacheService(repo, &fakePriceDeriver{}, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "XLM")
	require.NotNil(t, data)
	assert.Nil(t, data.PercentagePriceChange24h)
}

func TestGetPrice_EmptySeriesReturnsNilWithoutAdmission(t *testing.T) {
	repo := newFakeRepo()
	repo.createSeries("XLM")
	deriver := &fakePriceDeriver{}
	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "XLM")
	assert.Nil(t, data)
	assert.Empty(t, deriver.calls)
	assert.Zero(t, repo.popularity["XLM"])
}

func TestGetPrice_AdmissionFailureLeavesNoTrace(t *testing.T) {
	repo := newFakeRepo()
	deriver := &fakePriceDeriver{errs: map[string]error{
		"ABC:GXYZ": fmt.Errorf("ABC:GXYZ: %w", ErrNoPaths),
	}}
	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	data := svc.GetPrice(context.Background(), "ABC:GXYZ")
	assert.Nil(t, data)

	// A token that cannot be priced never enters the popularity set.
	assert.NotContains(t, repo.series, "ABC:GXYZ")
	assert.Zero(t, repo.popularity["ABC:GXYZ"])
}

func TestGetPrice_NormalizationEquivalence(t *testing.T) {
	repo := newFakeRepo()
	repo.createSeries("XLM", pricePoint(baseTS, "0.12"))
	svc := newTestCacheService(repo, &fakePriceDeriver{}, &fakeCatalogClient{})

	viaNative := svc.GetPrice(context.Background(), "native")
	viaCanonical := svc.GetPrice(context.Background(), "XLM")
	require.NotNil(t, viaNative)
	require.NotNil(t, viaCanonical)
	assert.True(t, viaNative.CurrentPrice.Equal(viaCanonical.CurrentPrice))

	// Both reads counted against the same key.
	assert.Equal(t, float64(2), repo.popularity["XLM"])
	assert.Len(t, repo.popularity, 1)
}

func TestInitPriceCache_RegistersCatalogWithoutPrices(t *testing.T) {
	repo := newFakeRepo()
	catalog := &fakeCatalogClient{tokens: []string{"XLM", "ABC:GABC", "DEF:GDEF"}}
	svc := newTestCacheService(repo, &fakePriceDeriver{}, catalog)

	require.NoError(t, svc.InitPriceCache(context.Background()))

	assert.True(t, repo.initialized)
	for _, key := range catalog.tokens {
		assert.Contains(t, repo.series, key)
		assert.Empty(t, repo.series[key], "init must not populate prices")
		assert.Equal(t, float64(1), repo.popularity[key])
	}
}

func TestUpdatePrices_EmptyPopularitySet(t *testing.T) {
	svc := newTestCacheService(newFakeRepo(), &fakePriceDeriver{}, &fakeCatalogClient{})

	err := svc.UpdatePrices(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestUpdatePrices_MixedBatchKeepsSuccesses(t *testing.T) {
	repo := newFakeRepo()
	_ = repo.RegisterTokens(context.Background(), []string{"X:G1", "Y:G2", "Z:G3"})

	deriver := &fakePriceDeriver{
		points: map[string]models.PricePoint{
			"X:G1": pricePoint(baseTS, "1.5"),
		},
		errs: map[string]error{
			"Y:G2": context.DeadlineExceeded,
			"Z:G3": fmt.Errorf("Z:G3: %w", ErrNoPaths),
		},
	}
	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	require.NoError(t, svc.UpdatePrices(context.Background()))

	// One bulk append containing only the successful token.
	require.Len(t, repo.multiAdds, 1)
	require.Len(t, repo.multiAdds[0], 1)
	assert.Equal(t, "X:G1", repo.multiAdds[0][0].Key)
	assert.Len(t, repo.series["X:G1"], 1)
	assert.Empty(t, repo.series["Y:G2"])
	assert.Empty(t, repo.series["Z:G3"])
}

func TestUpdatePrices_AllFailuresHaltPass(t *testing.T) {
	repo := newFakeRepo()
	_ = repo.RegisterTokens(context.Background(), []string{"X:G1", "Y:G2"})

	deriver := &fakePriceDeriver{errs: map[string]error{
		"X:G1": context.DeadlineExceeded,
		"Y:G2": fmt.Errorf("Y:G2: %w", ErrNoPaths),
	}}
	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	err := svc.UpdatePrices(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPrices)
	assert.Empty(t, repo.multiAdds)
}

func TestUpdatePrices_PartitionsIntoBatches(t *testing.T) {
	repo := newFakeRepo()
	deriver := &fakePriceDeriver{points: map[string]models.PricePoint{}}

	keys := make([]string, 0, tokenUpdateBatchSize+1)
	for i := 0; i < tokenUpdateBatchSize+1; i++ {
		key := fmt.Sprintf("T%04d:GISSUER", i)
		keys = append(keys, key)
		deriver.points[key] = pricePoint(baseTS, "2")
	}
	_ = repo.RegisterTokens(context.Background(), keys)

	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	require.NoError(t, svc.UpdatePrices(context.Background()))

	require.Len(t, repo.multiAdds, 2)
	assert.Len(t, repo.multiAdds[0], tokenUpdateBatchSize)
	assert.Len(t, repo.multiAdds[1], 1)
	assert.Len(t, deriver.calls, tokenUpdateBatchSize+1)
}

func TestUpdatePrices_PopularityOrderDrivesSchedule(t *testing.T) {
	repo := newFakeRepo()
	deriver := &fakePriceDeriver{points: map[string]models.PricePoint{}}

	// A full batch of equally read tokens plus one hot token whose name
	// sorts last; its score must pull it into the first batch.
	keys := make([]string, 0, tokenUpdateBatchSize+1)
	for i := 0; i < tokenUpdateBatchSize; i++ {
		keys = append(keys, fmt.Sprintf("T%04d:GISSUER", i))
	}
	keys = append(keys, "Z:GHOT")
	for _, key := range keys {
		deriver.points[key] = pricePoint(baseTS, "1")
	}
	_ = repo.RegisterTokens(context.Background(), keys)
	repo.popularity["Z:GHOT"] = 10

	svc := newTestCacheService(repo, deriver, &fakeCatalogClient{})

	require.NoError(t, svc.UpdatePrices(context.Background()))

	require.Len(t, repo.multiAdds, 2)
	firstBatch := make([]string, 0, len(repo.multiAdds[0]))
	for _, p := range repo.multiAdds[0] {
		firstBatch = append(firstBatch, p.Key)
	}
	assert.Contains(t, firstBatch, "Z:GHOT")
	require.Len(t, repo.multiAdds[1], 1)
	assert.Equal(t, fmt.Sprintf("T%04d:GISSUER", tokenUpdateBatchSize-1), repo.multiAdds[1][0].Key)
}
