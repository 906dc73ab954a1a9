package normalize

import (
	"github.com/shopspring/decimal"

	"quotecache/internal/provider/alphavantage"
	"quotecache/internal/provider/brapi"
	"quotecache/internal/provider/twelvedata"
	"quotecache/internal/provider/yahoo"
)

// Schema lists, per canonical attribute, the raw keys a provider may use,
// in the order they are tried. YieldScale converts the provider's dividend
// yield unit to percent (100 for fractions, 1 for percentages).
// DecimalComma marks providers whose numeric strings use the Brazilian
// format ("38,12", "1.234,56"); otherwise a comma groups thousands.
type Schema struct {
	Price          []string
	ChangeAbs      []string
	ChangePct      []string
	Currency       []string
	Sector         []string
	DividendYield  []string
	DividendAnnual []string
	YieldScale     decimal.Decimal
	DecimalComma   bool
}

var (
	percent  = decimal.NewFromInt(1)
	fraction = decimal.NewFromInt(100)
)

// DefaultSchemas covers the bundled adapters.
var DefaultSchemas = map[string]Schema{
	twelvedata.Name: {
		Price:         []string{"price", "close"},
		ChangeAbs:     []string{"change"},
		ChangePct:     []string{"percent_change"},
		Currency:      []string{"currency"},
		Sector:        []string{"sector"},
		DividendYield: []string{"dividend_yield", "yield"},
		YieldScale:    fraction,
	},
	alphavantage.Name: {
		Price:          []string{"05. price"},
		ChangeAbs:      []string{"09. change"},
		ChangePct:      []string{"10. change percent"},
		Currency:       []string{"Currency"},
		Sector:         []string{"Sector"},
		DividendYield:  []string{"DividendYield"},
		DividendAnnual: []string{"DividendPerShare"},
		YieldScale:     fraction,
	},
	brapi.Name: {
		Price:          []string{"regularMarketPrice"},
		ChangeAbs:      []string{"regularMarketChange"},
		ChangePct:      []string{"regularMarketChangePercent"},
		Currency:       []string{"currency"},
		Sector:         []string{"sector", "summaryProfile.sector"},
		DividendYield:  []string{"dividendYield", "dividendsData.dividendYield"},
		DividendAnnual: []string{"trailingAnnualDividendRate"},
		YieldScale:     percent,
		DecimalComma:   true,
	},
	yahoo.Name: {
		Price:          []string{"regularMarketPrice", "currentPrice"},
		ChangeAbs:      []string{"regularMarketChange"},
		ChangePct:      []string{"regularMarketChangePercent"},
		Currency:       []string{"currency"},
		Sector:         []string{"sector"},
		DividendYield:  []string{"dividendYield", "trailingAnnualDividendYield"},
		DividendAnnual: []string{"dividendRate", "trailingAnnualDividendRate"},
		YieldScale:     fraction,
	},
}

// genericSchema is used for providers without a registered schema. It
// tries the broad key set dashboards commonly see and assumes percent.
var genericSchema = Schema{
	Price:     []string{"price", "current_price", "currentPrice", "regularMarketPrice", "close"},
	ChangeAbs: []string{"change", "regularMarketChange"},
	ChangePct: []string{"change_percent", "percent_change", "changePercent", "regularMarketChangePercent"},
	Currency:  []string{"currency"},
	Sector:    []string{"sector"},
	DividendYield: []string{
		"dividend_yield_pct", "dividend_yield_percent", "dividend_yield_percentage",
		"yieldPercent", "yield_percent", "yield_percentage", "yield_pct",
		"dividend_percent", "dividend_percentage", "dividendYield", "dividend_yield",
		"annual_dividend_yield", "dividend_yield_annual", "yield",
	},
	DividendAnnual: []string{"dividendRate", "annual_dividend", "dividend_annual_amount"},
	YieldScale:     percent,
}
