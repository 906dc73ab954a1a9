package main

import (
	"encoding/json"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"

	"quotecache/internal/cache"
	"quotecache/internal/quote"
)

type row struct {
	cache.Result
}

func renderQuotes(w io.Writer, rows []row) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Ticker", "Price", "Change", "Change %", "Sector", "Div Yield %", "Div/Yr", "Source", "Fetched", "Stale"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, r := range rows {
		q := r.Quote
		stale := ""
		if r.Stale {
			stale = "yes"
		}
		table.Append([]string{
			q.Ticker,
			q.Currency.Symbol() + " " + q.Price.StringFixed(2),
			q.ChangeAbs.StringFixed(2),
			q.ChangePct.StringFixed(2),
			q.Sector,
			measure(q.DividendYieldPct),
			measure(q.DividendAnnualAmount),
			q.SourceProvider,
			q.FetchedAt.Local().Format(time.DateTime),
			stale,
		})
	}
	table.Render()
}

func renderEntries(w io.Writer, entries []cache.EntryInfo) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Ticker", "Market", "State", "Price", "Source", "Inserted"})
	table.SetAutoFormatHeaders(false)

	for _, e := range entries {
		inserted := ""
		if !e.InsertedAt.IsZero() {
			inserted = e.InsertedAt.Local().Format(time.DateTime)
		}
		table.Append([]string{e.Ticker, e.Market.String(), string(e.State), e.Price, e.SourceProvider, inserted})
	}
	table.Render()
}

// measure renders an optional value with a marker when it came from the
// static tables.
func measure(m *quote.Measure) string {
	if m == nil {
		return "-"
	}
	s := m.Value.StringFixed(2)
	if m.Origin == quote.OriginStatic {
		s += "*"
	}
	return s
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
