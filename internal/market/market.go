package market

import (
	"fmt"
	"strings"
)

// Market identifies the exchange group a ticker trades on. It selects the
// provider priority list, the home currency and the ticker suffix.
type Market string

const (
	US     Market = "US"
	Brazil Market = "Brazil"
)

// All lists the supported markets in a stable order.
var All = []Market{US, Brazil}

// aliasMap normalizes the spellings callers use for a market.
var aliasMap = map[string]Market{
	"us":        US,
	"usa":       US,
	"nyse":      US,
	"nasdaq":    US,
	"brazil":    Brazil,
	"brazilian": Brazil,
	"br":        Brazil,
	"b3":        Brazil,
	"bovespa":   Brazil,
}

// suffixes holds the exchange suffix appended to market-qualified tickers.
var suffixes = map[Market]string{
	US:     "",
	Brazil: ".SA",
}

// Parse resolves a market name or alias, case-insensitively.
// An empty string is treated as US.
func Parse(s string) (Market, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return US, nil
	}
	if m, ok := aliasMap[s]; ok {
		return m, nil
	}
	return "", fmt.Errorf("unknown market %q", s)
}

func (m Market) String() string { return string(m) }

// Suffix returns the ticker suffix for the market ("" for US).
func (m Market) Suffix() string { return suffixes[m] }

// Currency returns the ISO code of the market's home currency.
func (m Market) Currency() string {
	switch m {
	case Brazil:
		return "BRL"
	default:
		return "USD"
	}
}

// Qualify returns the market-qualified form of ticker: trimmed, upper-cased
// and carrying the market suffix exactly once.
func Qualify(ticker string, m Market) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return ""
	}
	suffix := m.Suffix()
	if suffix == "" || strings.HasSuffix(t, suffix) {
		return t
	}
	return t + suffix
}

// Bare strips any known market suffix from ticker.
func Bare(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	for _, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(t, suffix) {
			return strings.TrimSuffix(t, suffix)
		}
	}
	return t
}

// FromTicker infers the market from a qualified ticker's suffix.
// Tickers without a known suffix belong to US.
func FromTicker(ticker string) Market {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	for m, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(t, suffix) {
			return m
		}
	}
	return US
}
