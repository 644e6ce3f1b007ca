package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Pricer supplies current USD prices for a batch of symbols. Symbols it
// cannot price are omitted from the result.
type Pricer interface {
	Prices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Conversion is the outcome of a Convert, for display.
type Conversion struct {
	From       string
	To         string
	FromAmount float64
	ToAmount   float64
	// Rate is priceFrom/priceTo, i.e. how much of To one unit of From buys.
	Rate float64
}

// Engine validates and applies ledger operations. A per-user mutex wraps
// every read-modify-write cycle so that one user's operations are
// linearizable even when the transport interleaves them.
type Engine struct {
	store   Store
	pricer  Pricer
	symbols map[string]struct{}

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine builds an engine for the given supported symbol set.
func NewEngine(store Store, pricer Pricer, symbols []string) *Engine {
	supported := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		supported[strings.ToUpper(sym)] = struct{}{}
	}
	return &Engine{
		store:   store,
		pricer:  pricer,
		symbols: supported,
		locks:   map[string]*sync.Mutex{},
	}
}

// userLock returns the mutex for one user, creating it on first use.
func (e *Engine) userLock(user string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[user]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[user] = lock
	}
	return lock
}

func (e *Engine) checkSymbol(symbol string) (string, error) {
	sym := strings.ToUpper(symbol)
	if _, ok := e.symbols[sym]; !ok {
		return "", &InvalidSymbolError{Symbol: sym}
	}
	return sym, nil
}

// Credit adds amount of symbol to the user's account and returns the new
// balance for that symbol.
func (e *Engine) Credit(ctx context.Context, user, symbol string, amount float64) (float64, error) {
	sym, err := e.checkSymbol(symbol)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	lock := e.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	var balance float64
	err = e.store.Update(ctx, user, func(acct *Account) error {
		balance = acct.Add(sym, amount)
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("user", user).Str("symbol", sym).
		Float64("amount", amount).Float64("balance", balance).
		Msg("credit applied")
	return balance, nil
}

// Debit removes amount of symbol from the user's account. The new balance is
// returned; zero means the entry dropped below epsilon and was removed.
func (e *Engine) Debit(ctx context.Context, user, symbol string, amount float64) (float64, error) {
	sym, err := e.checkSymbol(symbol)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	lock := e.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	var balance float64
	err = e.store.Update(ctx, user, func(acct *Account) error {
		have := acct.Balance(sym)
		if have < amount {
			return &InsufficientFundsError{Symbol: sym, Have: have, Want: amount}
		}
		balance = acct.Sub(sym, amount)
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("user", user).Str("symbol", sym).
		Float64("amount", amount).Float64("balance", balance).
		Msg("debit applied")
	return balance, nil
}

// Convert debits amount of from and credits the USD-equivalent of to in a
// single persisted update. Prices are fetched before the book is touched;
// when either price is missing the account is left exactly as it was.
func (e *Engine) Convert(ctx context.Context, user, from, to string, amount float64) (*Conversion, error) {
	fromSym, err := e.checkSymbol(from)
	if err != nil {
		return nil, err
	}
	toSym, err := e.checkSymbol(to)
	if err != nil {
		return nil, err
	}
	if fromSym == toSym {
		return nil, ErrSameSymbol
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	prices, err := e.pricer.Prices(ctx, []string{fromSym, toSym})
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("conversion price fetch failed")
		return nil, fmt.Errorf("fetch prices: %w", ErrPriceUnavailable)
	}
	fromPrice, okFrom := prices[fromSym]
	toPrice, okTo := prices[toSym]
	if !okFrom || !okTo || toPrice == 0 {
		return nil, ErrPriceUnavailable
	}

	usdValue := fromPrice * amount
	toAmount := usdValue / toPrice

	lock := e.userLock(user)
	lock.Lock()
	defer lock.Unlock()

	err = e.store.Update(ctx, user, func(acct *Account) error {
		have := acct.Balance(fromSym)
		if have < amount {
			return &InsufficientFundsError{Symbol: fromSym, Have: have, Want: amount}
		}
		acct.Sub(fromSym, amount)
		acct.Add(toSym, toAmount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	conv := &Conversion{
		From:       fromSym,
		To:         toSym,
		FromAmount: amount,
		ToAmount:   toAmount,
		Rate:       fromPrice / toPrice,
	}
	log.Info().Str("user", user).Str("from", fromSym).Str("to", toSym).
		Float64("amount", amount).Float64("to_amount", toAmount).
		Msg("conversion applied")
	return conv, nil
}

// Balances returns a copy of the user's current balances.
func (e *Engine) Balances(ctx context.Context, user string) (Balances, error) {
	book, err := e.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	acct, ok := book[user]
	if !ok {
		return Balances{}, nil
	}
	return acct.Copy(), nil
}

// Supported lists the supported symbols in sorted order.
func (e *Engine) Supported() []string {
	out := make([]string, 0, len(e.symbols))
	for sym := range e.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
