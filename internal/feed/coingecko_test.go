package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const marketsBody = `[
  {"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":50000,
   "market_cap":1000000000000,"total_volume":30000000000,
   "price_change_percentage_24h":2.5},
  {"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":3000,
   "market_cap":400000000000,"total_volume":15000000000,
   "price_change_percentage_24h":-1.2}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *CoinGecko {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewCoinGecko(CoinGeckoConfig{
		BaseURL: server.URL,
		RPM:     6000, // tests should not wait on the limiter
		Assets:  map[string]string{"BTC": "bitcoin", "ETH": "ethereum", "USDT": "tether"},
	})
}

func TestCoinGecko_Snapshot(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "bitcoin", r.URL.Query().Get("ids"))
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		fmt.Fprint(w, marketsBody)
	})

	snap, err := client.Snapshot(context.Background(), "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, 50000.0, snap.Price)
	assert.Equal(t, 2.5, snap.Change24h)
	assert.Equal(t, 1e12, snap.MarketCap)
	assert.Equal(t, 3e10, snap.Volume24h)
}

func TestCoinGecko_SnapshotEmptyResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})

	_, err := client.Snapshot(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCoinGecko_TopMarkets(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/markets", r.URL.Path)
		assert.Equal(t, "market_cap_desc", r.URL.Query().Get("order"))
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))
		fmt.Fprint(w, marketsBody)
	})

	markets, err := client.TopMarkets(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "Bitcoin", markets[0].Name)
	assert.Equal(t, "BTC", markets[0].Symbol)
	assert.Equal(t, "ETH", markets[1].Symbol)
	assert.Equal(t, -1.2, markets[1].Change24h)
}

func TestCoinGecko_Prices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
		fmt.Fprint(w, `{"bitcoin":{"usd":50000},"ethereum":{"usd":3000}}`)
	})

	prices, err := client.Prices(context.Background(), []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 50000, "ETH": 3000}, prices)
}

func TestCoinGecko_PricesOmitsUnpricedSymbols(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"bitcoin":{"usd":50000}}`)
	})

	prices, err := client.Prices(context.Background(), []string{"BTC", "ETH"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC": 50000}, prices)
}

func TestCoinGecko_PricesUnknownSymbolsSkipRequest(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	prices, err := client.Prices(context.Background(), []string{"DOGE"})
	require.NoError(t, err)
	assert.Empty(t, prices)
	assert.False(t, called)
}

func TestCoinGecko_HTTPErrorIsUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Snapshot(context.Background(), "bitcoin")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = client.Prices(context.Background(), []string{"BTC"})
	assert.ErrorIs(t, err, ErrUnavailable)
}
