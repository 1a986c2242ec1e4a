package models

import (
	"github.com/shopspring/decimal"
)

// PricePoint is one sample in a token's price series. Timestamp is the
// close time of the ledger the price was derived from, in milliseconds
// since epoch.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// TokenPriceData is the read-API payload for a single token.
//
// PercentagePriceChange24h is nil when no sample exists inside the 24h
// lookup window or when the old sample's value is zero; it is never
// collapsed to a zero sentinel.
type TokenPriceData struct {
	CurrentPrice             decimal.Decimal  `json:"currentPrice"`
	PercentagePriceChange24h *decimal.Decimal `json:"percentagePriceChange24h"`
}
