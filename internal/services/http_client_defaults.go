package services

import "time"

// Shared HTTP client defaults for the outbound Horizon and asset-catalog
// clients.
const (
	requestTimeout   = 30 * time.Second
	maxRetries       = 3
	retryWaitTime    = 2 * time.Second
	maxRetryWaitTime = 10 * time.Second

	userAgent = "lumenview-wallet-backend/1.0"
)
