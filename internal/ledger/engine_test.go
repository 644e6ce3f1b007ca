package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu   sync.Mutex
	book Book
}

func newMemStore() *memStore {
	return &memStore{book: Book{}}
}

func (s *memStore) Load(ctx context.Context) (Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Book{}
	for user, acct := range s.book {
		out[user] = &Account{Balances: acct.Copy()}
	}
	return out, nil
}

func (s *memStore) Update(ctx context.Context, user string, fn func(*Account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.book[user]
	if !ok {
		acct = NewAccount()
	}
	scratch := &Account{Balances: acct.Copy()}
	if err := fn(scratch); err != nil {
		return err
	}
	s.book[user] = scratch
	return nil
}

// stubPricer returns fixed prices, or an error when set.
type stubPricer struct {
	prices map[string]float64
	err    error
}

func (p *stubPricer) Prices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := map[string]float64{}
	for _, sym := range symbols {
		if price, ok := p.prices[sym]; ok {
			out[sym] = price
		}
	}
	return out, nil
}

var testSymbols = []string{"BTC", "ETH", "USDT"}

func newTestEngine(pricer Pricer) (*Engine, *memStore) {
	store := newMemStore()
	return NewEngine(store, pricer, testSymbols), store
}

func TestEngine_CreditDebitRoundTrip(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	ctx := context.Background()

	before, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)

	balance, err := engine.Credit(ctx, "u1", "BTC", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, balance, 1e-12)

	balance, err = engine.Debit(ctx, "u1", "BTC", 0.5)
	require.NoError(t, err)
	assert.Zero(t, balance)

	after, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEngine_CreditValidation(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	ctx := context.Background()

	tests := []struct {
		name   string
		symbol string
		amount float64
		want   error
	}{
		{name: "unsupported_symbol", symbol: "DOGE", amount: 1, want: &InvalidSymbolError{}},
		{name: "zero_amount", symbol: "BTC", amount: 0, want: ErrInvalidAmount},
		{name: "negative_amount", symbol: "BTC", amount: -1, want: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Credit(ctx, "u1", tt.symbol, tt.amount)
			require.Error(t, err)
			var invalidSym *InvalidSymbolError
			if errors.As(tt.want, &invalidSym) {
				assert.ErrorAs(t, err, &invalidSym)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestEngine_CreditLowercaseSymbol(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	ctx := context.Background()

	balance, err := engine.Credit(ctx, "u1", "btc", 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, balance, 1e-12)

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, balances, "BTC")
}

func TestEngine_DebitInsufficientLeavesBookUnchanged(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "ETH", 0.3)
	require.NoError(t, err)

	_, err = engine.Debit(ctx, "u1", "ETH", 0.5)
	var insufficient *InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "ETH", insufficient.Symbol)
	assert.InDelta(t, 0.3, insufficient.Have, 1e-12)
	assert.InDelta(t, 0.5, insufficient.Want, 1e-12)

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, balances["ETH"], 1e-12)
}

func TestEngine_DebitBelowEpsilonRemovesEntry(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "BTC", 0.75)
	require.NoError(t, err)

	// Successive equal-sized debits drive the balance to zero; the entry
	// must vanish, not linger as a ~0 value.
	for i := 0; i < 3; i++ {
		_, err = engine.Debit(ctx, "u1", "BTC", 0.25)
		require.NoError(t, err)
	}

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.NotContains(t, balances, "BTC")
}

func TestEngine_Convert(t *testing.T) {
	pricer := &stubPricer{prices: map[string]float64{"BTC": 50000, "ETH": 3000}}
	engine, _ := newTestEngine(pricer)
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "BTC", 0.02)
	require.NoError(t, err)

	conv, err := engine.Convert(ctx, "u1", "BTC", "ETH", 0.01)
	require.NoError(t, err)
	assert.InDelta(t, 500.0/3000.0, conv.ToAmount, 1e-9)
	assert.InDelta(t, 50000.0/3000.0, conv.Rate, 1e-9)

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, balances["BTC"], 1e-12)
	assert.InDelta(t, 0.1667, balances["ETH"], 1e-4)
}

func TestEngine_ConvertValidation(t *testing.T) {
	pricer := &stubPricer{prices: map[string]float64{"BTC": 50000, "ETH": 3000}}
	engine, _ := newTestEngine(pricer)
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "BTC", 1)
	require.NoError(t, err)

	t.Run("same_symbol", func(t *testing.T) {
		_, err := engine.Convert(ctx, "u1", "BTC", "btc", 0.5)
		assert.ErrorIs(t, err, ErrSameSymbol)
	})

	t.Run("insufficient_funds", func(t *testing.T) {
		_, err := engine.Convert(ctx, "u1", "BTC", "ETH", 2)
		var insufficient *InsufficientFundsError
		assert.ErrorAs(t, err, &insufficient)
	})

	t.Run("unsupported_symbol", func(t *testing.T) {
		_, err := engine.Convert(ctx, "u1", "BTC", "DOGE", 0.5)
		var invalidSym *InvalidSymbolError
		assert.ErrorAs(t, err, &invalidSym)
	})
}

func TestEngine_ConvertFeedFailureTouchesNothing(t *testing.T) {
	pricer := &stubPricer{err: errors.New("upstream down")}
	engine, _ := newTestEngine(pricer)
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "BTC", 0.02)
	require.NoError(t, err)

	_, err = engine.Convert(ctx, "u1", "BTC", "ETH", 0.01)
	require.ErrorIs(t, err, ErrPriceUnavailable)

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, balances["BTC"], 1e-12)
	assert.NotContains(t, balances, "ETH")
}

func TestEngine_ConvertMissingPriceTouchesNothing(t *testing.T) {
	// The feed answers but omits one of the two symbols.
	pricer := &stubPricer{prices: map[string]float64{"BTC": 50000}}
	engine, _ := newTestEngine(pricer)
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "BTC", 0.02)
	require.NoError(t, err)

	_, err = engine.Convert(ctx, "u1", "BTC", "ETH", 0.01)
	require.ErrorIs(t, err, ErrPriceUnavailable)

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.02, balances["BTC"], 1e-12)
}

func TestEngine_ConcurrentCreditsBothLand(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	ctx := context.Background()

	_, err := engine.Credit(ctx, "u1", "BTC", 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Credit(ctx, "u1", "BTC", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	balances, err := engine.Balances(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, balances["BTC"], 1e-12)
}

func TestEngine_Supported(t *testing.T) {
	engine, _ := newTestEngine(&stubPricer{})
	assert.Equal(t, []string{"BTC", "ETH", "USDT"}, engine.Supported())
}
