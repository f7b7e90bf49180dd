// Package price fetches display-only fiat quotes for chain assets from
// the CoinGecko simple-price API. Quotes are cached briefly; balances and
// transaction amounts never depend on them.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/emberwallet/ember/internal/log"
)

const (
	coingeckoAPI   = "https://api.coingecko.com/api/v3"
	requestTimeout = 15 * time.Second
	// quoteTTL bounds how stale a cached quote may be before it is
	// refetched.
	quoteTTL = time.Minute
)

// Quote is one asset's fiat price at a point in time.
type Quote struct {
	Asset     string    `json:"asset"`
	Currency  string    `json:"currency"`
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Client fetches fiat quotes, caching each (asset, currency) pair for a
// short TTL to stay inside the public API's rate limits.
type Client struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]Quote
	now   func() time.Time
}

// NewClient creates a price client against the public CoinGecko API.
func NewClient() *Client {
	return &Client{
		baseURL: coingeckoAPI,
		client:  &http.Client{Timeout: requestTimeout},
		cache:   make(map[string]Quote),
		now:     time.Now,
	}
}

// Lookup returns the fiat price of an asset (a CoinGecko asset id such as
// "ethereum") in the given currency ("usd", "eur", ...). Served from
// cache when fresh.
func (c *Client) Lookup(ctx context.Context, asset, currency string) (Quote, error) {
	key := asset + "/" + currency

	c.mu.Lock()
	cached, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(cached.FetchedAt) < quoteTTL {
		return cached, nil
	}

	quote, err := c.fetch(ctx, asset, currency)
	if err != nil {
		// A stale quote beats no quote for display purposes.
		if ok {
			log.Price.Warn().Str("asset", asset).Err(err).Msg("price refresh failed, serving stale quote")
			return cached, nil
		}
		return Quote{}, err
	}

	c.mu.Lock()
	c.cache[key] = quote
	c.mu.Unlock()
	return quote, nil
}

func (c *Client) fetch(ctx context.Context, asset, currency string) (Quote, error) {
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		c.baseURL, url.QueryEscape(asset), url.QueryEscape(currency))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("build price request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("fetch price: status %d", resp.StatusCode)
	}

	// {"ethereum": {"usd": 2431.55}}
	var body map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode price: %w", err)
	}
	p, ok := body[asset][currency]
	if !ok {
		return Quote{}, fmt.Errorf("no %s quote for %s", currency, asset)
	}

	return Quote{
		Asset:     asset,
		Currency:  currency,
		Price:     p,
		FetchedAt: c.now().UTC(),
	}, nil
}
