package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/cryptobay/cryptobay/internal/metrics"
)

// CoinGeckoConfig configures the client for the keyless free tier.
type CoinGeckoConfig struct {
	BaseURL string
	Timeout time.Duration
	// RPM caps outgoing requests per minute. The free tier allows 10-50.
	RPM int
	// Assets maps an uppercase symbol to the CoinGecko asset id.
	Assets map[string]string
}

// CoinGecko is the price-feed client. All failures surface as
// ErrUnavailable so callers never hang on an unresponsive feed: the HTTP
// client carries a hard timeout and the breaker short-circuits a flapping
// upstream.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	assets  map[string]string
	symbols map[string]string // asset id -> symbol
}

func NewCoinGecko(cfg CoinGeckoConfig) *CoinGecko {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RPM <= 0 {
		cfg.RPM = 30
	}

	assets := make(map[string]string, len(cfg.Assets))
	symbols := make(map[string]string, len(cfg.Assets))
	for sym, id := range cfg.Assets {
		sym = strings.ToUpper(sym)
		assets[sym] = id
		symbols[id] = sym
	}

	settings := gobreaker.Settings{Name: "coingecko"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("provider", name).
			Str("from", from.String()).Str("to", to.String()).
			Msg("feed breaker state change")
	}

	return &CoinGecko{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RPM)/60.0), cfg.RPM),
		breaker: gobreaker.NewCircuitBreaker(settings),
		assets:  assets,
		symbols: symbols,
	}
}

// marketRow mirrors the /coins/markets response shape.
type marketRow struct {
	ID                 string  `json:"id"`
	Symbol             string  `json:"symbol"`
	Name               string  `json:"name"`
	CurrentPrice       float64 `json:"current_price"`
	MarketCap          float64 `json:"market_cap"`
	TotalVolume        float64 `json:"total_volume"`
	PriceChangePerc24h float64 `json:"price_change_percentage_24h"`
}

// Snapshot returns price, 24h change, cap and volume for one asset id.
func (c *CoinGecko) Snapshot(ctx context.Context, assetID string) (*MarketSnapshot, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("ids", assetID)
	params.Set("price_change_percentage", "24h")

	var rows []marketRow
	if err := c.get(ctx, "/coins/markets", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no market data for %q: %w", assetID, ErrUnavailable)
	}

	row := rows[0]
	return &MarketSnapshot{
		Price:     row.CurrentPrice,
		Change24h: row.PriceChangePerc24h,
		MarketCap: row.MarketCap,
		Volume24h: row.TotalVolume,
	}, nil
}

// TopMarkets returns the top n assets by market cap.
func (c *CoinGecko) TopMarkets(ctx context.Context, n int) ([]Market, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("per_page", fmt.Sprint(n))
	params.Set("page", "1")
	params.Set("price_change_percentage", "24h")

	var rows []marketRow
	if err := c.get(ctx, "/coins/markets", params, &rows); err != nil {
		return nil, err
	}

	markets := make([]Market, 0, len(rows))
	for _, row := range rows {
		markets = append(markets, Market{
			Name:      row.Name,
			Symbol:    strings.ToUpper(row.Symbol),
			Price:     row.CurrentPrice,
			Change24h: row.PriceChangePerc24h,
			MarketCap: row.MarketCap,
		})
	}
	return markets, nil
}

// Prices returns current USD prices for the requested symbols in one batched
// call. Symbols without a configured asset id or missing from the response
// are omitted.
func (c *CoinGecko) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	ids := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if id, ok := c.assets[strings.ToUpper(sym)]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}

	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")

	var raw map[string]map[string]float64
	if err := c.get(ctx, "/simple/price", params, &raw); err != nil {
		return nil, err
	}

	prices := make(map[string]float64, len(raw))
	for id, quote := range raw {
		sym, ok := c.symbols[id]
		if !ok {
			continue
		}
		if usd, ok := quote["usd"]; ok {
			prices[sym] = usd
		}
	}
	return prices, nil
}

func (c *CoinGecko) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", ErrUnavailable)
	}

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		fullURL := c.baseURL + endpoint + "?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	duration := time.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FeedRequests.WithLabelValues(endpoint, outcome).Inc()
	metrics.FeedLatency.WithLabelValues(endpoint).Observe(duration.Seconds())

	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Dur("duration", duration).
			Msg("feed request failed")
		return fmt.Errorf("%s: %s: %w", endpoint, err, ErrUnavailable)
	}

	log.Debug().Str("endpoint", endpoint).Dur("duration", duration).
		Msg("feed request complete")
	return nil
}
