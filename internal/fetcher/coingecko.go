package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const simplePricePath = "/simple/price"

// CoinGeckoOptions parameterise the CoinGecko fetcher.
type CoinGeckoOptions struct {
	BaseURL    string
	VsCurrency string
	APIKey     string
	Timeout    time.Duration
	UserAgent  string
}

// CoinGecko reads spot prices from the CoinGecko simple price endpoint.
type CoinGecko struct {
	opts    CoinGeckoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewCoinGecko constructs a CoinGecko fetcher.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	if opts.VsCurrency == "" {
		opts.VsCurrency = "usd"
	}
	opts.VsCurrency = strings.ToLower(opts.VsCurrency)

	return &CoinGecko{
		opts:    opts,
		logger:  logger.With().Str("component", "coingecko_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Fetch returns the price of feedID quoted in the configured currency.
func (c *CoinGecko) Fetch(ctx context.Context, feedID string) (float64, error) {
	if feedID == "" {
		return 0, fmt.Errorf("%w: empty feed id", ErrFeedDataMissing)
	}

	query := url.Values{}
	query.Set("ids", feedID)
	query.Set("vs_currencies", c.opts.VsCurrency)
	endpoint := c.baseURL + simplePricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", ErrFeedUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "pricewatch/1.0")
	}
	if c.opts.APIKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: read body: %v", ErrFeedUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, parseHTTPError(resp.StatusCode, payload)
	}

	var prices map[string]map[string]float64
	if err := json.Unmarshal(payload, &prices); err != nil {
		return 0, fmt.Errorf("%w: decode response: %v", ErrFeedDataMissing, err)
	}

	quotes, ok := prices[feedID]
	if !ok {
		c.logger.Debug().Str("feed_id", feedID).RawJSON("payload", payload).Msg("asset absent from response")
		return 0, fmt.Errorf("%w: %s not found in response", ErrFeedDataMissing, feedID)
	}
	price, ok := quotes[c.opts.VsCurrency]
	if !ok {
		return 0, fmt.Errorf("%w: %s has no %s quote", ErrFeedDataMissing, feedID, c.opts.VsCurrency)
	}
	if !(price > 0) {
		return 0, fmt.Errorf("%w: %s returned non-positive price %v", ErrFeedDataMissing, feedID, price)
	}

	return price, nil
}

type errorResponse struct {
	Error  string `json:"error"`
	Status struct {
		ErrorMessage string `json:"error_message"`
	} `json:"status"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Status.ErrorMessage != "" {
			return fmt.Errorf("%w: coingecko error (%d): %s", ErrFeedUnavailable, status, apiErr.Status.ErrorMessage)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("%w: coingecko error (%d): %s", ErrFeedUnavailable, status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("%w: coingecko error (%d): %s", ErrFeedUnavailable, status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: coingecko error (%d)", ErrFeedUnavailable, status)
}

var _ PriceFeed = (*CoinGecko)(nil)
