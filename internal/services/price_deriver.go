package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/models"
)

const (
	// priceCalculationTimeout caps a single derivation; path finding on a
	// congested network can stall far longer than a caller should wait.
	priceCalculationTimeout = 10 * time.Second

	// divisionPrecision is the decimal-place precision of the price
	// division. Chain amounts carry 7 decimal places; 28 leaves ample
	// headroom for the 24h delta math downstream.
	divisionPrecision = 28
)

// usdcAsset is the fixed quote asset of every path query.
var usdcAsset = Asset{
	Code:   "USDC",
	Issuer: "GA5ZSEJYB37JRC5AVCIA5MOP4RHTM335X2KGX3IHOJAPP5RE34K4KZVN",
}

// usdReceiveValue is the notional destination amount of every path query,
// in USDC units.
var usdReceiveValue = decimal.NewFromInt(500)

// PriceDeriver computes a token's USD price from on-chain path finding.
type PriceDeriver interface {
	// CalculatePriceInUSD returns the token's USD price together with the
	// close time of the ledger it was derived from.
	CalculatePriceInUSD(ctx context.Context, token string) (models.PricePoint, error)
}

type priceDeriver struct {
	horizon HorizonClient
	timeout time.Duration
	logger  *zap.SugaredLogger
}

func NewPriceDeriver(horizon HorizonClient, logger *zap.SugaredLogger) PriceDeriver {
	return &priceDeriver{
		horizon: horizon,
		timeout: priceCalculationTimeout,
		logger:  logger,
	}
}

// CalculatePriceInUSD races the derivation against the timeout; whichever
// finishes first wins and the loser's in-flight work is abandoned.
func (d *priceDeriver) CalculatePriceInUSD(ctx context.Context, token string) (models.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		point models.PricePoint
		err   error
	}

	resultCh := make(chan outcome, 1)
	go func() {
		point, err := d.derive(ctx, token)
		resultCh <- outcome{point: point, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.PricePoint{}, fmt.Errorf("price calculation for %s: %w", token, ctx.Err())
	case result := <-resultCh:
		return result.point, result.err
	}
}

func (d *priceDeriver) derive(ctx context.Context, token string) (models.PricePoint, error) {
	sources, primary, err := sourceAssets(token)
	if err != nil {
		return models.PricePoint{}, err
	}

	closedAtMS, err := d.horizon.LatestLedgerCloseTime(ctx)
	if err != nil {
		return models.PricePoint{}, fmt.Errorf("latest ledger for %s: %w", token, err)
	}

	records, err := d.horizon.StrictReceivePaths(ctx, sources, usdcAsset, usdReceiveValue)
	if err != nil {
		return models.PricePoint{}, fmt.Errorf("paths for %s: %w", token, err)
	}
	if len(records) == 0 {
		return models.PricePoint{}, fmt.Errorf("%s: %w", token, ErrNoPaths)
	}

	// Pick the cheapest route among those whose source matches the primary
	// asset's code, with the accumulator seeded by the first record
	// overall. The seed competes even when it does not match, and when no
	// record matches, the seed stands in as a fallback route.
	minSourceAmount := records[0].SourceAmount
	for _, record := range records {
		if record.SourceAssetCode != primary.Code {
			continue
		}
		if record.SourceAmount.LessThan(minSourceAmount) {
			minSourceAmount = record.SourceAmount
		}
	}

	price := usdReceiveValue.DivRound(minSourceAmount, divisionPrecision)

	return models.PricePoint{
		Timestamp: closedAtMS,
		Price:     price,
	}, nil
}

// sourceAssets resolves a token identifier into the path-query source set
// and the primary asset the route filter keys on. The native asset is
// always appended as an alternative hop so thinly traded tokens can still
// route via it.
func sourceAssets(token string) ([]Asset, Asset, error) {
	if token == models.NativeToken {
		return []Asset{NativeAsset}, NativeAsset, nil
	}

	parts := strings.Split(token, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, Asset{}, fmt.Errorf("%q: %w", token, ErrBadToken)
	}

	asset := Asset{Code: parts[0], Issuer: parts[1]}
	return []Asset{asset, NativeAsset}, asset, nil
}
