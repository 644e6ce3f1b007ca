// Package format holds the display formatting shared by chat replies and
// alert texts. Rounding happens here only; stored balances are never
// rounded.
package format

import (
	"fmt"
	"strings"
)

// USD renders a dollar value with two decimals and thin thousands
// separation, e.g. "50 123.00 $".
func USD(v float64) string {
	s := fmt.Sprintf("%.2f", v)

	whole, frac, _ := strings.Cut(s, ".")
	neg := strings.HasPrefix(whole, "-")
	if neg {
		whole = whole[1:]
	}

	var groups []string
	for len(whole) > 3 {
		groups = append([]string{whole[len(whole)-3:]}, groups...)
		whole = whole[:len(whole)-3]
	}
	groups = append([]string{whole}, groups...)

	out := strings.Join(groups, " ") + "." + frac + " $"
	if neg {
		out = "-" + out
	}
	return out
}

// Amount renders a balance compactly, dropping trailing zeros.
func Amount(v float64) string {
	return fmt.Sprintf("%g", v)
}
