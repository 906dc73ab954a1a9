package quote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SourceStatic marks data that came from the static fallback tables rather
// than from a live provider.
const SourceStatic = "static-fallback"

// Origin tags where an optional attribute came from.
type Origin string

const (
	OriginLive   Origin = "live"
	OriginStatic Origin = "static"
)

// Measure is an optional numeric attribute together with its provenance.
type Measure struct {
	Value  decimal.Decimal `json:"value"`
	Origin Origin          `json:"origin"`
}

// Currency is the ISO code a quote's amounts are denominated in.
type Currency string

const (
	USD Currency = "USD"
	BRL Currency = "BRL"
)

// ParseCurrency accepts an ISO code or a display symbol.
func ParseCurrency(s string) (Currency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USD", "US$", "$":
		return USD, nil
	case "BRL", "R$":
		return BRL, nil
	}
	return "", fmt.Errorf("unknown currency %q", s)
}

// Symbol returns the display symbol used by the dashboard.
func (c Currency) Symbol() string {
	switch c {
	case BRL:
		return "R$"
	case USD:
		return "$"
	}
	return string(c)
}

// Quote is the canonical, provider-agnostic snapshot for one ticker.
// Amounts are decimals to keep provider values exact through scaling.
type Quote struct {
	Ticker               string          `json:"ticker"`
	Price                decimal.Decimal `json:"price"`
	ChangeAbs            decimal.Decimal `json:"change_abs"`
	ChangePct            decimal.Decimal `json:"change_pct"`
	Currency             Currency        `json:"currency"`
	Sector               string          `json:"sector,omitempty"`
	DividendYieldPct     *Measure        `json:"dividend_yield_pct,omitempty"`
	DividendAnnualAmount *Measure        `json:"dividend_annual_amount,omitempty"`
	SourceProvider       string          `json:"source_provider"`
	FetchedAt            time.Time       `json:"fetched_at"`
}

var (
	ErrMissingFetchedAt = errors.New("quote: fetched_at not set")
	ErrNegativePrice    = errors.New("quote: negative price")
	ErrUnknownSource    = errors.New("quote: unknown source provider")
)

// Validate checks the invariants a stored quote must hold. allowed lists the
// configured adapter names; a nil slice skips the source check.
func (q Quote) Validate(allowed []string) error {
	if q.FetchedAt.IsZero() {
		return ErrMissingFetchedAt
	}
	if q.Price.IsNegative() {
		return ErrNegativePrice
	}
	if allowed == nil || q.SourceProvider == SourceStatic {
		return nil
	}
	for _, name := range allowed {
		if name == q.SourceProvider {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownSource, q.SourceProvider)
}

// Clone returns a deep copy so callers never share Measure pointers with
// the cache.
func (q Quote) Clone() Quote {
	out := q
	if q.DividendYieldPct != nil {
		m := *q.DividendYieldPct
		out.DividendYieldPct = &m
	}
	if q.DividendAnnualAmount != nil {
		m := *q.DividendAnnualAmount
		out.DividendAnnualAmount = &m
	}
	return out
}
