package marketcap

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

	"github.com/zeromicro/go-zero/core/logx"
)

const (
	defaultCoinGeckoURL  = "https://api.coingecko.com/api/v3"
	defaultPerPage       = 250
	defaultPages         = 2
	defaultMaxRetries    = 5
	defaultRateLimitWait = 60 * time.Second
	defaultRetryWait     = 5 * time.Second
	coinGeckoTimeout     = 30 * time.Second
)

// CoinGecko pulls market caps from the /coins/markets endpoint.
type CoinGecko struct {
	baseURL       string
	httpClient    *http.Client
	perPage       int
	pages         int
	maxRetries    int
	rateLimitWait time.Duration
	retryWait     time.Duration
}

// CoinGeckoOption configures a CoinGecko source.
type CoinGeckoOption func(*CoinGecko)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) CoinGeckoOption {
	return func(c *CoinGecko) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithPaging sets page size and how many pages are read.
func WithPaging(perPage, pages int) CoinGeckoOption {
	return func(c *CoinGecko) {
		if perPage > 0 {
			c.perPage = perPage
		}
		if pages > 0 {
			c.pages = pages
		}
	}
}

// WithRetry sets the retry budget and the waits after a 429 and after other failures.
func WithRetry(maxRetries int, rateLimitWait, retryWait time.Duration) CoinGeckoOption {
	return func(c *CoinGecko) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if rateLimitWait >= 0 {
			c.rateLimitWait = rateLimitWait
		}
		if retryWait >= 0 {
			c.retryWait = retryWait
		}
	}
}

// NewCoinGecko constructs the source.
func NewCoinGecko(baseURL string, opts ...CoinGeckoOption) *CoinGecko {
	if baseURL == "" {
		baseURL = defaultCoinGeckoURL
	}
	c := &CoinGecko{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: coinGeckoTimeout},
		perPage:       defaultPerPage,
		pages:         defaultPages,
		maxRetries:    defaultMaxRetries,
		rateLimitWait: defaultRateLimitWait,
		retryWait:     defaultRetryWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type coinMarket struct {
	Symbol    string   `json:"symbol"`
	MarketCap *float64 `json:"market_cap"`
}

// Fetch reads pages ordered by market cap; for duplicate tickers the largest cap wins.
func (c *CoinGecko) Fetch(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64)
	for page := 1; page <= c.pages; page++ {
		coins, err := c.fetchPage(ctx, page)
		if err != nil {
			if len(out) > 0 {
				logx.WithContext(ctx).Errorf("marketcap: coingecko page=%d err=%v keeping=%d", page, err, len(out))
				return out, nil
			}
			return nil, err
		}
		for _, coin := range coins {
			if coin.MarketCap == nil || *coin.MarketCap <= 0 {
				continue
			}
			asset := strings.ToUpper(strings.TrimSpace(coin.Symbol))
			if _, seen := out[asset]; seen || asset == "" {
				continue
			}
			out[asset] = *coin.MarketCap
		}
		if len(coins) < c.perPage {
			break
		}
	}
	return out, nil
}

func (c *CoinGecko) fetchPage(ctx context.Context, page int) ([]coinMarket, error) {
	query := url.Values{}
	query.Set("vs_currency", "usd")
	query.Set("order", "market_cap_desc")
	query.Set("per_page", strconv.Itoa(c.perPage))
	query.Set("page", strconv.Itoa(page))
	endpoint := c.baseURL + "/coins/markets?" + query.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("marketcap: build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		wait := c.retryWait
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		} else {
			body, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("read response: %w", readErr)
			case resp.StatusCode == http.StatusTooManyRequests:
				lastErr = fmt.Errorf("rate limited")
				wait = c.rateLimitWait
				logx.WithContext(ctx).Infof("marketcap: coingecko rate limited page=%d wait=%s", page, wait)
			case resp.StatusCode != http.StatusOK:
				lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
			default:
				var coins []coinMarket
				if err := json.Unmarshal(body, &coins); err != nil {
					return nil, fmt.Errorf("marketcap: decode page %d: %w", page, err)
				}
				return coins, nil
			}
		}
		if attempt == c.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("marketcap: max retries exceeded for page %d: %w", page, lastErr)
}
