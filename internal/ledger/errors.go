package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount rejects non-positive or unparsable amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrSameSymbol rejects a conversion of a symbol into itself.
	ErrSameSymbol = errors.New("cannot convert a symbol into itself")

	// ErrPriceUnavailable means the feed failed or did not price one of the
	// requested symbols. The book is never touched when this is returned.
	ErrPriceUnavailable = errors.New("exchange prices unavailable")

	// ErrPersistence means the backing store could not be read or written.
	ErrPersistence = errors.New("ledger persistence unavailable")
)

// InvalidSymbolError reports a symbol outside the supported set.
type InvalidSymbolError struct {
	Symbol string
}

func (e *InvalidSymbolError) Error() string {
	return fmt.Sprintf("unsupported symbol %q", e.Symbol)
}

// InsufficientFundsError carries the current balance so callers can show the
// user what they actually hold.
type InsufficientFundsError struct {
	Symbol string
	Have   float64
	Want   float64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s: have %g, want %g", e.Symbol, e.Have, e.Want)
}
