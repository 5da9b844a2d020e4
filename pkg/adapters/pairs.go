package adapters

import (
	"fmt"
	"strings"
)

// PairFormatter is the trading-pair spelling axis of adapter composition.
// Implementations convert a split canonical pair into one exchange family's
// wire form.
type PairFormatter interface {
	Format(base, quote string) string
}

// PairFormatterFunc adapts a function to the PairFormatter interface.
type PairFormatterFunc func(base, quote string) string

// Format implements PairFormatter.
func (f PairFormatterFunc) Format(base, quote string) string {
	return f(base, quote)
}

// The formatter set covers every exchange family in the library:
// "BTC-USDT" becomes "BTCUSDT", "btcusdt", "BTC/USDT", "BTC_USDT" or stays
// as-is.
var (
	NoSeparator = PairFormatterFunc(func(base, quote string) string {
		return base + quote
	})

	NoSeparatorLower = PairFormatterFunc(func(base, quote string) string {
		return strings.ToLower(base + quote)
	})

	Slash = PairFormatterFunc(func(base, quote string) string {
		return base + "/" + quote
	})

	Underscore = PairFormatterFunc(func(base, quote string) string {
		return base + "_" + quote
	})

	Passthrough = PairFormatterFunc(func(base, quote string) string {
		return base + "-" + quote
	})
)

// SplitPair validates and splits a canonical "BASE-QUOTE" pair. Both legs
// must be non-empty and free of whitespace; the result is upper-cased.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q is not in BASE-QUOTE form", ErrInvalidTradingPair, pair)
	}
	for _, part := range parts {
		if strings.ContainsAny(part, " \t/_") {
			return "", "", fmt.Errorf("%w: %q contains separator characters", ErrInvalidTradingPair, pair)
		}
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}
