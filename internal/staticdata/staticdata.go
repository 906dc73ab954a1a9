package staticdata

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"quotecache/internal/market"
)

//go:embed defaults.csv
var defaultCSV []byte

// row is one line of the fallback table.
type row struct {
	Ticker           string `csv:"ticker"`
	Market           string `csv:"market"`
	Sector           string `csv:"sector"`
	DividendYieldPct string `csv:"dividend_yield_pct"`
}

// Entry is the static knowledge about one ticker. A nil DividendYieldPct
// means the table has no yield for it.
type Entry struct {
	Sector           string
	DividendYieldPct *decimal.Decimal
}

// Table maps bare tickers to static entries, per market.
type Table struct {
	entries map[market.Market]map[string]Entry
}

// Default returns the table bundled with the binary.
func Default() (*Table, error) {
	return Parse(bytes.NewReader(defaultCSV))
}

// Load reads the table at path, or the bundled one when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open static data: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a ticker,market,sector,dividend_yield_pct CSV. Later rows
// win over earlier rows for the same ticker.
func Parse(r io.Reader) (*Table, error) {
	var rows []row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("decode static data: %w", err)
	}
	t := &Table{entries: make(map[market.Market]map[string]Entry, len(market.All))}
	for i, rw := range rows {
		m, err := market.Parse(rw.Market)
		if err != nil {
			return nil, fmt.Errorf("static data row %d: %w", i+2, err)
		}
		ticker := market.Bare(rw.Ticker)
		if ticker == "" {
			continue
		}
		e := Entry{Sector: strings.TrimSpace(rw.Sector)}
		if s := strings.TrimSpace(rw.DividendYieldPct); s != "" {
			y, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("static data row %d: dividend yield %q: %w", i+2, s, err)
			}
			e.DividendYieldPct = &y
		}
		if t.entries[m] == nil {
			t.entries[m] = make(map[string]Entry)
		}
		t.entries[m][ticker] = e
	}
	return t, nil
}

// Lookup finds the entry for ticker, which may be bare or qualified.
func (t *Table) Lookup(ticker string, m market.Market) (Entry, bool) {
	if t == nil {
		return Entry{}, false
	}
	e, ok := t.entries[m][market.Bare(ticker)]
	return e, ok
}

// Len returns the number of entries across all markets.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, byTicker := range t.entries {
		n += len(byTicker)
	}
	return n
}
