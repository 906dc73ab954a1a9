package quote_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotecache/internal/quote"
)

func TestQuote_Validate(t *testing.T) {
	t.Parallel()

	base := quote.Quote{
		Ticker:         "KO",
		Price:          decimal.NewFromInt(60),
		SourceProvider: "yahoo",
		FetchedAt:      time.Now(),
	}

	require.NoError(t, base.Validate(nil))
	require.NoError(t, base.Validate([]string{"twelvedata", "yahoo"}))

	unknown := base
	unknown.SourceProvider = "scraper"
	require.ErrorIs(t, unknown.Validate([]string{"yahoo"}), quote.ErrUnknownSource)

	static := base
	static.SourceProvider = quote.SourceStatic
	require.NoError(t, static.Validate([]string{"yahoo"}))

	noTime := base
	noTime.FetchedAt = time.Time{}
	require.ErrorIs(t, noTime.Validate(nil), quote.ErrMissingFetchedAt)

	negative := base
	negative.Price = decimal.NewFromInt(-1)
	require.ErrorIs(t, negative.Validate(nil), quote.ErrNegativePrice)
}

func TestQuote_CloneDoesNotShareMeasures(t *testing.T) {
	t.Parallel()

	// Arrange
	q := quote.Quote{
		Ticker:           "PETR4.SA",
		DividendYieldPct: &quote.Measure{Value: decimal.NewFromInt(9), Origin: quote.OriginStatic},
	}

	// Act
	c := q.Clone()
	c.DividendYieldPct.Value = decimal.NewFromInt(1)

	// Assert
	require.True(t, decimal.NewFromInt(9).Equal(q.DividendYieldPct.Value))
	require.Nil(t, c.DividendAnnualAmount)
}

func TestParseCurrency(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]quote.Currency{"usd": quote.USD, " R$ ": quote.BRL, "$": quote.USD, "BRL": quote.BRL} {
		got, err := quote.ParseCurrency(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := quote.ParseCurrency("EUR")
	require.Error(t, err)

	require.Equal(t, "R$", quote.BRL.Symbol())
	require.Equal(t, "$", quote.USD.Symbol())
}
