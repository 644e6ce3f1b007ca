// Package chat recognizes the text commands of the assistant and turns them
// into ledger, feed and alert operations. It is transport-neutral: whatever
// carries the message hands the user id and text in and sends the reply
// back.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cryptobay/cryptobay/internal/alert"
	"github.com/cryptobay/cryptobay/internal/feed"
	"github.com/cryptobay/cryptobay/internal/format"
	"github.com/cryptobay/cryptobay/internal/ledger"
	"github.com/cryptobay/cryptobay/internal/metrics"
)

var (
	editPattern     = regexp.MustCompile(`^([+\-])\s*([A-Za-z]{2,10})\s+([0-9.,]+)$`)
	exchangePattern = regexp.MustCompile(`^(?i:EX)\s+([A-Za-z]{2,10})\s+([A-Za-z]{2,10})\s+([0-9.,]+)$`)
)

// Ledger is the slice of the engine the router uses.
type Ledger interface {
	Credit(ctx context.Context, user, symbol string, amount float64) (float64, error)
	Debit(ctx context.Context, user, symbol string, amount float64) (float64, error)
	Convert(ctx context.Context, user, from, to string, amount float64) (*ledger.Conversion, error)
	Balances(ctx context.Context, user string) (ledger.Balances, error)
	Supported() []string
}

// Feed is the slice of the price feed the router uses for views.
type Feed interface {
	Snapshot(ctx context.Context, assetID string) (*feed.MarketSnapshot, error)
	TopMarkets(ctx context.Context, n int) ([]feed.Market, error)
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Alerts is the subscription toggle exposed to the chat surface.
type Alerts interface {
	Toggle(userID string) bool
}

// Config holds the display knobs of the router.
type Config struct {
	// RefAssetID and RefSymbol identify the reference asset of the rates
	// view and the alert texts, e.g. "bitcoin" / "BTC".
	RefAssetID string
	RefSymbol  string
	// Threshold is echoed in the alerts-toggle reply.
	Threshold float64
	// TopN is the listing size of the top view.
	TopN int
}

// Router dispatches one message to the matching handler.
type Router struct {
	cfg    Config
	ledger Ledger
	feed   Feed
	alerts Alerts
}

func NewRouter(cfg Config, l Ledger, f Feed, a Alerts) *Router {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	return &Router{cfg: cfg, ledger: l, feed: f, alerts: a}
}

// Handle routes one message and returns the reply text. It never returns an
// error: every failure becomes a user-facing message.
func (r *Router) Handle(ctx context.Context, userID, text string) string {
	text = strings.TrimSpace(text)

	if m := editPattern.FindStringSubmatch(text); m != nil {
		return r.handleEdit(ctx, userID, m[1], m[2], m[3])
	}
	if m := exchangePattern.FindStringSubmatch(text); m != nil {
		return r.handleExchange(ctx, userID, m[1], m[2], m[3])
	}

	switch strings.ToLower(strings.TrimPrefix(text, "/")) {
	case "start", "help", "menu":
		metrics.CommandsTotal.WithLabelValues("help").Inc()
		return r.menuText()
	case "rates":
		metrics.CommandsTotal.WithLabelValues("rates").Inc()
		return r.handleRates(ctx)
	case "top", "top10", "top 10":
		metrics.CommandsTotal.WithLabelValues("top").Inc()
		return r.handleTop(ctx)
	case "portfolio":
		metrics.CommandsTotal.WithLabelValues("portfolio").Inc()
		return r.handlePortfolio(ctx, userID)
	case "alerts":
		metrics.CommandsTotal.WithLabelValues("alerts").Inc()
		return r.handleAlertsToggle(userID)
	}

	return "Pick an action: rates, top, portfolio, alerts — or edit your portfolio with commands like `+ BTC 0.01`."
}

func (r *Router) handleEdit(ctx context.Context, userID, sign, symbol, rawAmount string) string {
	amount, err := parseAmount(rawAmount)
	if err != nil {
		metrics.CommandErrors.WithLabelValues("invalid_amount").Inc()
		return "⚠ Amount must be a number greater than zero. Example: `+ BTC 0.01`"
	}

	symbol = strings.ToUpper(symbol)
	var balance float64
	if sign == "+" {
		metrics.CommandsTotal.WithLabelValues("credit").Inc()
		balance, err = r.ledger.Credit(ctx, userID, symbol, amount)
	} else {
		metrics.CommandsTotal.WithLabelValues("debit").Inc()
		balance, err = r.ledger.Debit(ctx, userID, symbol, amount)
	}
	if err != nil {
		return r.errorReply(err)
	}
	return fmt.Sprintf("✅ Portfolio updated: %s = %s", symbol, format.Amount(balance))
}

func (r *Router) handleExchange(ctx context.Context, userID, from, to, rawAmount string) string {
	metrics.CommandsTotal.WithLabelValues("convert").Inc()

	amount, err := parseAmount(rawAmount)
	if err != nil {
		metrics.CommandErrors.WithLabelValues("invalid_amount").Inc()
		return "⚠ Amount must be a number greater than zero. Example: `EX BTC USDT 0.01`"
	}

	conv, err := r.ledger.Convert(ctx, userID, from, to, amount)
	if err != nil {
		return r.errorReply(err)
	}
	return fmt.Sprintf("✅ Exchange complete.\n%s %s → %.6f %s\nRate: 1 %s ≈ %.5f %s",
		format.Amount(conv.FromAmount), conv.From, conv.ToAmount, conv.To,
		conv.From, conv.Rate, conv.To)
}

func (r *Router) handleRates(ctx context.Context) string {
	snap, err := r.feed.Snapshot(ctx, r.cfg.RefAssetID)
	if err != nil {
		metrics.CommandErrors.WithLabelValues("feed_unavailable").Inc()
		return fmt.Sprintf("⚠ Could not fetch the %s rate. Try again later.", r.cfg.RefSymbol)
	}

	arrow := "🔻"
	if snap.Change24h > 0 {
		arrow = "🔺"
	}
	return fmt.Sprintf("%s / USD\nPrice: %s\n24h change: %s %+.2f%%\n\nMarket cap: %s\nVolume (24h): %s",
		r.cfg.RefSymbol, format.USD(snap.Price), arrow, snap.Change24h,
		format.USD(snap.MarketCap), format.USD(snap.Volume24h))
}

func (r *Router) handleTop(ctx context.Context) string {
	markets, err := r.feed.TopMarkets(ctx, r.cfg.TopN)
	if err != nil {
		metrics.CommandErrors.WithLabelValues("feed_unavailable").Inc()
		return fmt.Sprintf("⚠ Could not fetch the top %d listing. Try again later.", r.cfg.TopN)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🏆 Top %d by market cap\n", r.cfg.TopN)
	for i, m := range markets {
		arrow := "➖"
		if m.Change24h > 0 {
			arrow = "🔺"
		} else if m.Change24h < 0 {
			arrow = "🔻"
		}
		fmt.Fprintf(&b, "\n%d. %s (%s)\n   Price: %s | %s %+.2f%%\n   Cap: %s\n",
			i+1, m.Name, m.Symbol, format.USD(m.Price), arrow, m.Change24h, format.USD(m.MarketCap))
	}
	return b.String()
}

func (r *Router) handlePortfolio(ctx context.Context, userID string) string {
	balances, err := r.ledger.Balances(ctx, userID)
	if err != nil {
		return r.errorReply(err)
	}
	if len(balances) == 0 {
		return fmt.Sprintf("💼 Your portfolio is empty.\n\nAdd a coin:  `+ BTC 0.01`\nRemove part: `- BTC 0.005`\n\nSupported: %s.",
			strings.Join(r.ledger.Supported(), ", "))
	}

	symbols := make([]string, 0, len(balances))
	for sym := range balances {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	prices, err := r.feed.Prices(ctx, symbols)
	if err != nil {
		// Valuation is best effort; the holdings are still worth showing.
		log.Warn().Err(err).Str("user", userID).Msg("portfolio valuation unavailable")
		prices = map[string]float64{}
	}

	var b strings.Builder
	b.WriteString("💼 Your portfolio\n")
	var total float64
	for _, sym := range symbols {
		fmt.Fprintf(&b, "\n• %s: %s", sym, format.Amount(balances[sym]))
		if price, ok := prices[sym]; ok {
			value := price * balances[sym]
			total += value
			fmt.Fprintf(&b, " ≈ %s", format.USD(value))
		}
	}
	fmt.Fprintf(&b, "\n\nTotal over priced coins: %s", format.USD(total))
	return b.String()
}

func (r *Router) handleAlertsToggle(userID string) string {
	if r.alerts.Toggle(userID) {
		return fmt.Sprintf("🔔 Alerts on.\nI will watch %s and signal when the 24h change exceeds ±%.1f%%.",
			r.cfg.RefSymbol, r.cfg.Threshold)
	}
	return "🔕 Alerts off."
}

func (r *Router) menuText() string {
	return "👋 Hi! This is CryptoBay.\n\n" +
		"I can:\n" +
		"• rates — current " + r.cfg.RefSymbol + " market data\n" +
		"• top — top coins by market cap\n" +
		"• portfolio — your holdings and their USD value\n" +
		"• `+ BTC 0.01` / `- BTC 0.01` — edit your portfolio\n" +
		"• `EX BTC USDT 0.01` — convert at the current rate\n" +
		"• alerts — toggle price alerts"
}

// errorReply maps an operation error to the user-facing text. Every error is
// recovered here; nothing propagates past the chat boundary.
func (r *Router) errorReply(err error) string {
	var invalidSym *ledger.InvalidSymbolError
	var insufficient *ledger.InsufficientFundsError

	switch {
	case errors.As(err, &invalidSym):
		metrics.CommandErrors.WithLabelValues("invalid_symbol").Inc()
		return fmt.Sprintf("⚠ Only %s are supported.", strings.Join(r.ledger.Supported(), ", "))
	case errors.As(err, &insufficient):
		metrics.CommandErrors.WithLabelValues("insufficient_funds").Inc()
		return fmt.Sprintf("⚠ Not enough %s. Current balance: %s",
			insufficient.Symbol, format.Amount(insufficient.Have))
	case errors.Is(err, ledger.ErrInvalidAmount):
		metrics.CommandErrors.WithLabelValues("invalid_amount").Inc()
		return "⚠ Amount must be greater than zero."
	case errors.Is(err, ledger.ErrSameSymbol):
		metrics.CommandErrors.WithLabelValues("same_symbol").Inc()
		return "⚠ Cannot exchange a coin into itself."
	case errors.Is(err, ledger.ErrPriceUnavailable):
		metrics.CommandErrors.WithLabelValues("price_unavailable").Inc()
		return "⚠ Could not fetch exchange prices. Try again later."
	case errors.Is(err, ledger.ErrPersistence):
		metrics.CommandErrors.WithLabelValues("persistence").Inc()
		return "⚠ Could not save your portfolio. Nothing was changed — try again later."
	}

	metrics.CommandErrors.WithLabelValues("internal").Inc()
	log.Error().Err(err).Msg("unexpected command error")
	return "⚠ Something went wrong. Try again later."
}

// parseAmount accepts `.` or `,` as the decimal separator.
func parseAmount(raw string) (float64, error) {
	raw = strings.ReplaceAll(raw, ",", ".")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ledger.ErrInvalidAmount
	}
	if amount <= 0 {
		return 0, ledger.ErrInvalidAmount
	}
	return amount, nil
}

// compile-time interface checks against the concrete implementations
var (
	_ Ledger = (*ledger.Engine)(nil)
	_ Feed   = (*feed.CoinGecko)(nil)
	_ Alerts = (*alert.Watcher)(nil)
)
