package market

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/etherwave-labs/ai-agent-playground/httpclient"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// coinIDs symbol -> CoinGecko id
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"HYPE": "hyperliquid",
}

// PriceFeed reference USD price from CoinGecko simple/price, cached for ttl
type PriceFeed struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedPrice
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// NewPriceFeed creates a feed; baseURL defaults to the public CoinGecko API
func NewPriceFeed(baseURL, apiKey string, ttl time.Duration) *PriceFeed {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &PriceFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpclient.New(httpclient.Options{RequestsPerSec: 0.5, Burst: 2, Timeout: 10 * time.Second}),
		ttl:     ttl,
		cache:   make(map[string]cachedPrice),
	}
}

// Price current USD price of symbol (e.g. "BTC")
func (f *PriceFeed) Price(ctx context.Context, symbol string) (float64, error) {
	symbol = strings.ToUpper(symbol)
	id, ok := coinIDs[symbol]
	if !ok {
		id = strings.ToLower(symbol)
	}

	f.mu.Lock()
	if c, ok := f.cache[id]; ok && time.Since(c.at) < f.ttl {
		f.mu.Unlock()
		return c.price, nil
	}
	f.mu.Unlock()

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	header := http.Header{"Accept": []string{"application/json"}}
	if f.apiKey != "" {
		header.Set("x-cg-demo-api-key", f.apiKey)
	}

	body, err := f.client.Do(ctx, http.MethodGet, f.baseURL+"/simple/price?"+q.Encode(), nil, header)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s price: %w", symbol, err)
	}

	res := gjson.GetBytes(body, id+".usd")
	if !res.Exists() || res.Float() <= 0 {
		return 0, fmt.Errorf("no usd price for %s in response", id)
	}
	price := res.Float()

	f.mu.Lock()
	f.cache[id] = cachedPrice{price: price, at: time.Now()}
	f.mu.Unlock()

	log.Debug().Str("symbol", symbol).Float64("price", price).Msg("💰 Reference price fetched")
	return price, nil
}
