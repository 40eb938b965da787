// Package marketdata implements the REST client for the external market-data
// provider, which supplies candidate tokens per category together with
// market-cap and volume figures.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// Client is the REST client for the market-data provider. Requests are rate
// limited because the provider throttles aggressively on free tiers.
type Client struct {
	baseURL    string
	apiKey     string
	platform   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientConfig holds the market-data client parameters.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Platform       string // chain whose contract addresses are resolved, e.g. "base"
	RequestsPerSec float64
	RequestBurst   int
}

// NewClient creates a market-data Client.
func NewClient(cfg ClientConfig) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 0.5
	}
	burst := cfg.RequestBurst
	if burst <= 0 {
		burst = 1
	}
	platform := cfg.Platform
	if platform == "" {
		platform = "base"
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		platform: platform,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// TopTokensByCategory returns up to limit candidate tokens for the given
// category, ordered by descending market cap as the provider reports them.
// Tokens with missing fields are returned as-is; filtering is the adapter's
// and selector's job.
func (c *Client) TopTokensByCategory(ctx context.Context, category string, limit int) ([]domain.Token, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("category", category)
	params.Set("order", "market_cap_desc")
	params.Set("per_page", strconv.Itoa(limit))
	params.Set("sparkline", "false")

	path := "/coins/markets?" + params.Encode()

	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("marketdata: get tokens for %s: %w", category, err)
	}

	var coins []APICoin
	if err := json.Unmarshal(body, &coins); err != nil {
		return nil, fmt.Errorf("marketdata: decode tokens: %w", err)
	}

	tokens := make([]domain.Token, 0, len(coins))
	for i := range coins {
		tokens = append(tokens, coins[i].ToDomainToken(c.platform))
	}
	return tokens, nil
}

// Categories returns the identifiers of all categories the provider knows.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	body, err := c.doGet(ctx, "/coins/categories/list")
	if err != nil {
		return nil, fmt.Errorf("marketdata: get categories: %w", err)
	}

	var cats []APICategory
	if err := json.Unmarshal(body, &cats); err != nil {
		return nil, fmt.Errorf("marketdata: decode categories: %w", err)
	}

	out := make([]string, 0, len(cats))
	for _, cat := range cats {
		out = append(out, cat.ID)
	}
	return out, nil
}

// doGet performs a rate-limited GET against the provider and returns the
// response body. Any non-2xx status is a hard failure for the calling pass.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s",
			domain.ErrUpstreamUnavailable, resp.StatusCode, truncate(body, 200))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
