package feed

import "errors"

// ErrUnavailable wraps every transport, decode, rate-limit and breaker
// failure: callers only need to know the feed could not answer.
var ErrUnavailable = errors.New("price feed unavailable")

// MarketSnapshot is one asset's current market view.
type MarketSnapshot struct {
	Price     float64
	Change24h float64 // percent over the last 24h
	MarketCap float64
	Volume24h float64
}

// Market is one row of a market-cap ordered listing.
type Market struct {
	Name      string
	Symbol    string
	Price     float64
	Change24h float64
	MarketCap float64
}
