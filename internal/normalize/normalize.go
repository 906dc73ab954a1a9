package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quotecache/internal/market"
	"quotecache/internal/provider"
	"quotecache/internal/quote"
)

// Error reports a payload from which no canonical attribute could be
// coerced. The accompanying Quote is an empty but valid shell.
type Error struct {
	Provider string
	Ticker   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("normalize %s/%s: no usable attribute in payload", e.Provider, e.Ticker)
}

// Normalizer maps provider payloads to quote.Quote. It holds only static
// schemas and is safe for concurrent use.
type Normalizer struct {
	schemas map[string]Schema
	now     func() time.Time
}

type Option func(*Normalizer)

// WithSchema registers or replaces the schema for a provider.
func WithSchema(providerID string, s Schema) Option {
	return func(n *Normalizer) { n.schemas[providerID] = s }
}

// WithYieldScale overrides the yield scale of an already known provider.
func WithYieldScale(providerID string, scale decimal.Decimal) Option {
	return func(n *Normalizer) {
		s, ok := n.schemas[providerID]
		if !ok {
			s = genericSchema
		}
		s.YieldScale = scale
		n.schemas[providerID] = s
	}
}

// WithClock overrides the time source used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{schemas: make(map[string]Schema, len(DefaultSchemas)), now: time.Now}
	for id, s := range DefaultSchemas {
		n.schemas[id] = s
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) schema(providerID string) Schema {
	if s, ok := n.schemas[providerID]; ok {
		return s
	}
	return genericSchema
}

// Normalize converts raw into a Quote for ticker. A coercion failure on
// one attribute leaves that attribute absent; the error is non-nil only
// when nothing at all could be read, and the shell is still returned.
func (n *Normalizer) Normalize(providerID, ticker string, raw provider.RawFields) (quote.Quote, error) {
	s := n.schema(providerID)
	mkt := market.FromTicker(ticker)
	q := quote.Quote{
		Ticker:         ticker,
		Currency:       quote.Currency(mkt.Currency()),
		SourceProvider: providerID,
		FetchedAt:      n.now().UTC(),
	}

	found := 0
	if v, ok := firstDecimal(raw, s.Price, s.DecimalComma); ok && !v.IsNegative() {
		q.Price = v
		found++
	}
	if v, ok := firstDecimal(raw, s.ChangeAbs, s.DecimalComma); ok {
		q.ChangeAbs = v
		found++
	}
	if v, ok := firstDecimal(raw, s.ChangePct, s.DecimalComma); ok {
		q.ChangePct = v
		found++
	}
	if v, ok := firstString(raw, s.Currency); ok {
		if c, err := quote.ParseCurrency(v); err == nil {
			q.Currency = c
		}
	}
	if v, ok := firstString(raw, s.Sector); ok && !strings.EqualFold(v, "unknown") {
		q.Sector = v
		found++
	}

	// Non-positive yields mean "no data" for every provider we know; leaving
	// them absent lets the static tables fill in.
	if v, ok := firstDecimal(raw, s.DividendYield, s.DecimalComma); ok && v.IsPositive() {
		scale := s.YieldScale
		if scale.IsZero() {
			scale = percent
		}
		q.DividendYieldPct = &quote.Measure{Value: v.Mul(scale), Origin: quote.OriginLive}
		found++
	}
	if v, ok := firstDecimal(raw, s.DividendAnnual, s.DecimalComma); ok && v.IsPositive() {
		q.DividendAnnualAmount = &quote.Measure{Value: v, Origin: quote.OriginLive}
		found++
	}

	if found == 0 {
		return q, &Error{Provider: providerID, Ticker: ticker}
	}
	return q, nil
}

func firstDecimal(raw provider.RawFields, keys []string, decimalComma bool) (decimal.Decimal, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if d, ok := coerceDecimal(v, decimalComma); ok {
			return d, true
		}
	}
	return decimal.Zero, false
}

func firstString(raw provider.RawFields, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// coerceDecimal accepts JSON numbers, native numerics and numeric strings
// such as "1.2%" or "1,234.50", plus "38,12" when decimalComma is set.
func coerceDecimal(v any, decimalComma bool) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case json.Number:
		return parseDecimal(x.String(), false)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		return coerceDecimal(float64(x), decimalComma)
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case string:
		return parseDecimal(x, decimalComma)
	}
	return decimal.Zero, false
}

// parseDecimal reads s with "." as the decimal mark and "," grouping
// thousands, or the other way round when decimalComma is set. When both
// marks appear the later one is the decimal mark. A comma-grouped number
// must use groups of three digits.
func parseDecimal(s string, decimalComma bool) (decimal.Decimal, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" || strings.EqualFold(s, "none") || s == "-" {
		return decimal.Zero, false
	}
	comma, dot := strings.LastIndex(s, ","), strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0 && decimalComma:
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0:
		if !thousandsGrouped(s) {
			return decimal.Zero, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func thousandsGrouped(s string) bool {
	groups := strings.Split(strings.TrimPrefix(s, "-"), ",")
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}
