package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/lumenview/wallet-backend/internal/models"
)

const (
	defaultCatalogBaseURL = "https://api.stellar.expert"

	// catalogFirstPage is the entry point of the catalog walk; records are
	// ordered by 7-day volume so the most traded assets are admitted first.
	catalogFirstPage = "/explorer/public/asset?sort=volume7d&order=desc"

	// initialTokenCount caps how many tokens the bootstrap walk collects.
	initialTokenCount = 1000

	// catalogPageDelay spaces page fetches to respect the catalog's rate
	// limits.
	catalogPageDelay = 500 * time.Millisecond

	// quoteAssetCode is excluded from the tracked set; every price is
	// quoted against it already.
	quoteAssetCode = "USDC"
)

// CatalogClient walks the external asset catalog.
type CatalogClient interface {
	// FetchAllTokens returns up to initialTokenCount deduplicated token
	// identifiers, native first. Fetch errors end the walk; partial
	// results are returned.
	FetchAllTokens(ctx context.Context) []string
}

type catalogClient struct {
	client    *resty.Client
	baseURL   string
	pageDelay time.Duration
	maxTokens int
	logger    *zap.SugaredLogger
}

func NewCatalogClient(logger *zap.SugaredLogger, baseURL string) CatalogClient {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultCatalogBaseURL
	}

	client := resty.New()
	client.SetTimeout(requestTimeout)
	client.SetHeader("User-Agent", userAgent)

	return &catalogClient{
		client:    client,
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageDelay: catalogPageDelay,
		maxTokens: initialTokenCount,
		logger:    logger,
	}
}

type catalogRecord struct {
	Asset    string `json:"asset"`
	TomlInfo *struct {
		Code   string `json:"code"`
		Issuer string `json:"issuer"`
	} `json:"tomlInfo"`
}

type catalogPage struct {
	Embedded struct {
		Records []catalogRecord `json:"records"`
	} `json:"_embedded"`
	Links struct {
		Next *struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
}

func (c *catalogClient) FetchAllTokens(ctx context.Context) []string {
	tokens := []string{models.NativeToken}
	seen := map[string]struct{}{models.NativeToken: {}}

	url := c.baseURL + catalogFirstPage
	for len(tokens) < c.maxTokens {
		page, err := c.fetchPage(ctx, url)
		if err != nil {
			c.logger.Errorw("Catalog walk ended early", "url", url, "tokens", len(tokens), "error", err)
			break
		}

		for _, record := range page.Embedded.Records {
			if len(tokens) >= c.maxTokens {
				break
			}

			token, ok := tokenFromRecord(record)
			if !ok {
				continue
			}
			if _, dup := seen[token]; dup {
				continue
			}
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}

		if page.Links.Next == nil || page.Links.Next.Href == "" {
			break
		}
		url = page.Links.Next.Href
		if !strings.HasPrefix(url, "http") {
			url = c.baseURL + url
		}

		time.Sleep(c.pageDelay)
	}

	c.logger.Infow("Catalog walk completed", "tokens", len(tokens))
	return tokens
}

func (c *catalogClient) fetchPage(ctx context.Context, url string) (*catalogPage, error) {
	resp, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog page: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("catalog page request failed with status %d", resp.StatusCode())
	}

	var page catalogPage
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}
	return &page, nil
}

// tokenFromRecord extracts a "CODE:ISSUER" identifier from a catalog
// record. The native and quote assets are skipped; records without a
// usable code/issuer pair are skipped.
func tokenFromRecord(record catalogRecord) (string, bool) {
	if record.Asset == models.NativeToken || record.Asset == quoteAssetCode {
		return "", false
	}

	if record.TomlInfo != nil && record.TomlInfo.Code != "" && record.TomlInfo.Issuer != "" {
		return record.TomlInfo.Code + ":" + record.TomlInfo.Issuer, true
	}

	// Without toml metadata the asset field has form "CODE-ISSUER-TYPE".
	parts := strings.Split(record.Asset, "-")
	if len(parts) < 2 {
		return "", false
	}
	return parts[0] + ":" + parts[1], true
}
