package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultHorizonBaseURL = "https://horizon.stellar.org"

// Asset identifies an asset in path queries. The native asset carries an
// empty issuer.
type Asset struct {
	Code   string
	Issuer string
}

// NativeAsset is the network's native asset.
var NativeAsset = Asset{Code: "XLM"}

// IsNative reports whether the asset is the network's native asset.
func (a Asset) IsNative() bool {
	return a.Issuer == ""
}

// queryValue renders the asset in Horizon's source_assets list format.
func (a Asset) queryValue() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// PathRecord is one candidate route returned by the strict-receive path
// query. SourceAssetCode is empty for native-source routes.
type PathRecord struct {
	SourceAssetCode string
	SourceAmount    decimal.Decimal
}

// HorizonClient handles the two Horizon API calls price derivation needs.
//
// Endpoints used:
// - GET /ledgers?order=desc&limit=1
// - GET /paths/strict-receive
type HorizonClient interface {
	// LatestLedgerCloseTime returns the close time of the most recent
	// ledger in milliseconds since epoch.
	LatestLedgerCloseTime(ctx context.Context) (int64, error)

	// StrictReceivePaths returns candidate routes that deliver destAmount
	// of dest from any of the source assets.
	StrictReceivePaths(ctx context.Context, sources []Asset, dest Asset, destAmount decimal.Decimal) ([]PathRecord, error)
}

type horizonClient struct {
	client  *resty.Client
	baseURL string
	logger  *zap.SugaredLogger
}

func NewHorizonClient(logger *zap.SugaredLogger, baseURL string) HorizonClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultHorizonBaseURL
	}

	client := resty.New()
	client.SetTimeout(requestTimeout)
	client.SetRetryCount(maxRetries)
	client.SetRetryWaitTime(retryWaitTime)
	client.SetRetryMaxWaitTime(maxRetryWaitTime)
	client.SetHeader("User-Agent", userAgent)

	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500 || r.StatusCode() == 429
	})

	return &horizonClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

type horizonLedgerRecord struct {
	ClosedAt string `json:"closed_at"`
}

type horizonLedgersResponse struct {
	Embedded struct {
		Records []horizonLedgerRecord `json:"records"`
	} `json:"_embedded"`
}

type horizonPathRecord struct {
	SourceAssetCode string `json:"source_asset_code"`
	SourceAmount    string `json:"source_amount"`
}

type horizonPathsResponse struct {
	Embedded struct {
		Records []horizonPathRecord `json:"records"`
	} `json:"_embedded"`
}

func (c *horizonClient) LatestLedgerCloseTime(ctx context.Context) (int64, error) {
	url := c.baseURL + "/ledgers"

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("order", "desc").
		SetQueryParam("limit", "1").
		Get(url)
	if err != nil {
		c.logger.Errorw("Failed to fetch latest ledger", "error", err)
		return 0, fmt.Errorf("fetch latest ledger: %w", err)
	}
	if resp.StatusCode() != 200 {
		c.logger.Errorw("Latest ledger request failed", "statusCode", resp.StatusCode(), "body", string(resp.Body()))
		return 0, fmt.Errorf("latest ledger request failed with status %d", resp.StatusCode())
	}

	var parsed horizonLedgersResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		c.logger.Errorw("Failed to parse ledgers response", "error", err)
		return 0, fmt.Errorf("parse ledgers response: %w", err)
	}
	if len(parsed.Embedded.Records) == 0 {
		return 0, fmt.Errorf("ledgers response contained no records")
	}

	closedAt, err := time.Parse(time.RFC3339, parsed.Embedded.Records[0].ClosedAt)
	if err != nil {
		return 0, fmt.Errorf("parse ledger close time %q: %w", parsed.Embedded.Records[0].ClosedAt, err)
	}

	return closedAt.UnixMilli(), nil
}

func (c *horizonClient) StrictReceivePaths(ctx context.Context, sources []Asset, dest Asset, destAmount decimal.Decimal) ([]PathRecord, error) {
	sourceValues := make([]string, 0, len(sources))
	for _, source := range sources {
		sourceValues = append(sourceValues, source.queryValue())
	}

	url := c.baseURL + "/paths/strict-receive"

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"source_assets":            strings.Join(sourceValues, ","),
			"destination_asset_type":   "credit_alphanum4",
			"destination_asset_code":   dest.Code,
			"destination_asset_issuer": dest.Issuer,
			"destination_amount":       destAmount.String(),
		}).
		Get(url)
	if err != nil {
		c.logger.Errorw("Failed to fetch strict-receive paths", "error", err)
		return nil, fmt.Errorf("fetch strict-receive paths: %w", err)
	}
	if resp.StatusCode() != 200 {
		c.logger.Errorw("Strict-receive paths request failed", "statusCode", resp.StatusCode(), "body", string(resp.Body()))
		return nil, fmt.Errorf("strict-receive paths request failed with status %d", resp.StatusCode())
	}

	var parsed horizonPathsResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		c.logger.Errorw("Failed to parse paths response", "error", err)
		return nil, fmt.Errorf("parse paths response: %w", err)
	}

	records := make([]PathRecord, 0, len(parsed.Embedded.Records))
	for _, record := range parsed.Embedded.Records {
		amount, err := decimal.NewFromString(record.SourceAmount)
		if err != nil {
			c.logger.Warnw("Skipping path with unparsable amount", "amount", record.SourceAmount, "error", err)
			continue
		}
		records = append(records, PathRecord{
			SourceAssetCode: record.SourceAssetCode,
			SourceAmount:    amount,
		})
	}

	return records, nil
}
