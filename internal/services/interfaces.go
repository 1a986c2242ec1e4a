package services

import (
	"context"

	"github.com/lumenview/wallet-backend/internal/models"
)

// PriceCacheService defines the token price cache engine.
type PriceCacheService interface {
	// InitPriceCache bootstraps the cache from the asset catalog and sets
	// the initialization flag. It does not populate prices.
	InitPriceCache(ctx context.Context) error

	// UpdatePrices refreshes every tracked token in popularity order.
	// Only one pass may run at a time; the caller must not overlap them.
	UpdatePrices(ctx context.Context) error

	// GetPrice returns the token's current price and 24h change, or nil
	// when no price is available. Unknown tokens are lazily admitted.
	// Callers may pass "native" or "XLM" for the native token.
	GetPrice(ctx context.Context, token string) *models.TokenPriceData
}
