// Package custody implements the REST client for the external wallet-custody
// service, which holds private keys and executes on-chain trades on the
// strategy owner's behalf. The service settles trades asynchronously:
// CreateTrade returns a handle and AwaitTrade polls until the trade reaches a
// terminal state or the caller's deadline passes.
package custody

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/basketbot/internal/crypto"
	"github.com/alanyoungcy/basketbot/internal/domain"
)

// pollInterval is how often AwaitTrade checks for settlement.
const pollInterval = 2 * time.Second

// Client is the REST client for the wallet-custody service.
type Client struct {
	baseURL    string
	hmacAuth   *crypto.HMACAuth
	httpClient *http.Client
}

// ClientConfig holds the custody client parameters.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
}

// NewClient creates a custody Client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		hmacAuth: &crypto.HMACAuth{
			Key:    cfg.APIKey,
			Secret: cfg.APISecret,
		},
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateTrade submits a trade converting amount of fromAsset to toAsset in
// the given wallet. Settlement is asynchronous; the returned handle is used
// with AwaitTrade.
func (c *Client) CreateTrade(ctx context.Context, walletID, fromAsset, toAsset string, amount decimal.Decimal) (domain.TradeHandle, error) {
	path := fmt.Sprintf("/v1/wallets/%s/trades", url.PathEscape(walletID))

	body, err := c.doRequest(ctx, http.MethodPost, path, createTradeRequest{
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		Amount:    amount.String(),
	})
	if err != nil {
		return domain.TradeHandle{}, fmt.Errorf("custody: create trade: %w", err)
	}

	var trade apiTrade
	if err := json.Unmarshal(body, &trade); err != nil {
		return domain.TradeHandle{}, fmt.Errorf("custody: decode trade: %w", err)
	}
	if trade.Status == tradeStatusFailed {
		return domain.TradeHandle{}, fmt.Errorf("custody: %w: %s", domain.ErrTradeFailed, trade.Error)
	}

	return domain.TradeHandle{
		ID:        trade.ID,
		WalletID:  walletID,
		FromAsset: fromAsset,
		ToAsset:   toAsset,
		Amount:    amount,
	}, nil
}

// AwaitTrade polls the trade until it settles or ctx is done. A deadline
// expiry is reported as domain.ErrTradeTimeout; the underlying trade is not
// cancelled and may still settle later.
func (c *Client) AwaitTrade(ctx context.Context, handle domain.TradeHandle) error {
	path := fmt.Sprintf("/v1/wallets/%s/trades/%s",
		url.PathEscape(handle.WalletID), url.PathEscape(handle.ID))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		body, err := c.doRequest(ctx, http.MethodGet, path, nil)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("custody: trade %s: %w", handle.ID, domain.ErrTradeTimeout)
			}
			return fmt.Errorf("custody: poll trade %s: %w", handle.ID, err)
		}

		var trade apiTrade
		if err := json.Unmarshal(body, &trade); err != nil {
			return fmt.Errorf("custody: decode trade %s: %w", handle.ID, err)
		}

		switch trade.Status {
		case tradeStatusComplete:
			return nil
		case tradeStatusFailed:
			return fmt.Errorf("custody: trade %s: %w: %s", handle.ID, domain.ErrTradeFailed, trade.Error)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("custody: trade %s: %w", handle.ID, domain.ErrTradeTimeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetBalance returns the wallet's balance of the given asset.
func (c *Client) GetBalance(ctx context.Context, walletID, asset string) (decimal.Decimal, error) {
	path := fmt.Sprintf("/v1/wallets/%s/balances/%s",
		url.PathEscape(walletID), url.PathEscape(asset))

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("custody: get balance %s/%s: %w", walletID, asset, err)
	}

	var bal apiBalance
	if err := json.Unmarshal(body, &bal); err != nil {
		return decimal.Zero, fmt.Errorf("custody: decode balance: %w", err)
	}
	return bal.Amount, nil
}

// doRequest performs an HMAC-authenticated request and returns the response
// body. Transport errors and non-2xx statuses map to domain errors.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range c.hmacAuth.Headers(method, path, bodyStr) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to appropriate domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrTradeFailed, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrUpstreamUnavailable, statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.CustodyClient = (*Client)(nil)
