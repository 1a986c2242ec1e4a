package services

import "errors"

var (
	// ErrStoreUnavailable means the engine has no store handle. Reads
	// collapse to a null result; writes surface this error.
	ErrStoreUnavailable = errors.New("time-series store unavailable")

	// ErrBadToken marks a token identifier that is neither the native
	// token nor a well-formed "CODE:ISSUER" pair.
	ErrBadToken = errors.New("malformed token identifier")

	// ErrNoPaths means the path query returned no route to the quote asset.
	ErrNoPaths = errors.New("no payment paths to quote asset")

	// ErrEmptyCatalog means the popularity set held no tokens at update time.
	ErrEmptyCatalog = errors.New("no tokens in popularity set")

	// ErrNoPrices means an entire update batch failed to produce a single
	// price; it halts the update pass since it signals an upstream outage
	// rather than per-token flakiness.
	ErrNoPrices = errors.New("batch produced no prices")
)
