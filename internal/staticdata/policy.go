package staticdata

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"quotecache/internal/market"
	"quotecache/internal/quote"
)

// Precedence decides whether live or static data wins for an attribute.
type Precedence string

const (
	LiveFirst   Precedence = "live-first"
	StaticFirst Precedence = "static-first"
)

func ParsePrecedence(s string) (Precedence, error) {
	switch Precedence(strings.ToLower(strings.TrimSpace(s))) {
	case "", LiveFirst:
		return LiveFirst, nil
	case StaticFirst:
		return StaticFirst, nil
	}
	return "", fmt.Errorf("unknown precedence %q", s)
}

// Policy holds the per-attribute precedence for one market.
type Policy struct {
	Sector   Precedence
	Dividend Precedence
}

// DefaultPolicies keeps live sectors everywhere. Brazilian dividend yields
// from the free providers are unreliable, so the curated table wins there.
var DefaultPolicies = map[market.Market]Policy{
	market.US:     {Sector: LiveFirst, Dividend: LiveFirst},
	market.Brazil: {Sector: LiveFirst, Dividend: StaticFirst},
}

var hundred = decimal.NewFromInt(100)

// Enricher applies the static table to normalized quotes.
type Enricher struct {
	table    *Table
	policies map[market.Market]Policy
}

// NewEnricher builds an Enricher. Markets missing from policies use
// DefaultPolicies.
func NewEnricher(t *Table, policies map[market.Market]Policy) *Enricher {
	merged := make(map[market.Market]Policy, len(DefaultPolicies))
	for m, p := range DefaultPolicies {
		merged[m] = p
	}
	for m, p := range policies {
		merged[m] = p
	}
	return &Enricher{table: t, policies: merged}
}

// Apply fills or overrides sector and dividend yield according to the
// market policy, then derives the annual dividend amount when it is still
// missing. q is not modified.
func (e *Enricher) Apply(q quote.Quote, m market.Market) quote.Quote {
	out := q.Clone()
	p := e.policies[m]

	if st, ok := e.table.Lookup(out.Ticker, m); ok {
		if st.Sector != "" && (out.Sector == "" || p.Sector == StaticFirst) {
			out.Sector = st.Sector
		}
		if st.DividendYieldPct != nil && st.DividendYieldPct.IsPositive() &&
			(out.DividendYieldPct == nil || p.Dividend == StaticFirst) {
			out.DividendYieldPct = &quote.Measure{Value: *st.DividendYieldPct, Origin: quote.OriginStatic}
		}
	}

	if out.DividendAnnualAmount == nil && out.DividendYieldPct != nil && out.Price.IsPositive() {
		out.DividendAnnualAmount = &quote.Measure{
			Value:  out.DividendYieldPct.Value.Div(hundred).Mul(out.Price).Round(4),
			Origin: out.DividendYieldPct.Origin,
		}
	}
	return out
}
