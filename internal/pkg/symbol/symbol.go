// Package symbol normalizes tickers so positions, prices and signals that
// spell the same market differently ("BTC/USDT", "BTCUSDT", "btc/usdt:USDT")
// line up.
package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// Pair renders BASE/QUOTE.
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact renders BASEQUOTE.
func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "USD", "BTC", "ETH", "BNB"}

// Parse splits a crypto pair. Settlement suffixes (":USDT") are dropped.
// Anything that is not a recognizable pair (equities, indices) yields the
// zero Symbol.
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if base == "" || quote == "" {
				return Symbol{}
			}
			return Symbol{Base: base, Quote: quote}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Key is the lookup key for a ticker: the compact pair when parseable,
// otherwise the trimmed upper-case input.
func Key(s string) string {
	if k := Parse(s).Compact(); k != "" {
		return k
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsPair(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
