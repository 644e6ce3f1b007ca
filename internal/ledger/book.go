package ledger

// Epsilon is the smallest balance worth keeping. Entries at or below it are
// removed from the account entirely rather than stored as near-zero dust.
const Epsilon = 1e-10

// Balances maps an uppercase asset symbol to the held amount.
type Balances map[string]float64

// Account holds one user's balances. It is the unit of persistence and of
// transactional update.
type Account struct {
	Balances Balances `json:"balances"`
}

// NewAccount returns an empty account.
func NewAccount() *Account {
	return &Account{Balances: Balances{}}
}

// Balance returns the held amount for symbol, zero when absent.
func (a *Account) Balance(symbol string) float64 {
	return a.Balances[symbol]
}

// Add increases the balance for symbol and returns the new amount.
func (a *Account) Add(symbol string, amount float64) float64 {
	if a.Balances == nil {
		a.Balances = Balances{}
	}
	next := a.Balances[symbol] + amount
	a.set(symbol, next)
	return a.Balances[symbol]
}

// Sub decreases the balance for symbol and returns the new amount. A
// remainder at or below Epsilon deletes the entry, so the symbol disappears
// from the account instead of lingering at ~0.
func (a *Account) Sub(symbol string, amount float64) float64 {
	if a.Balances == nil {
		a.Balances = Balances{}
	}
	next := a.Balances[symbol] - amount
	a.set(symbol, next)
	return a.Balances[symbol]
}

func (a *Account) set(symbol string, amount float64) {
	if amount <= Epsilon {
		delete(a.Balances, symbol)
		return
	}
	a.Balances[symbol] = amount
}

// Copy returns an independent copy of the balances map.
func (a *Account) Copy() Balances {
	out := make(Balances, len(a.Balances))
	for sym, amt := range a.Balances {
		out[sym] = amt
	}
	return out
}

// Book maps a user identifier to their account. Accounts are created lazily
// on first mutation and never deleted.
type Book map[string]*Account
