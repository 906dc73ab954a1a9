package normalize_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quotecache/internal/normalize"
	"quotecache/internal/provider"
	"quotecache/internal/provider/brapi"
	"quotecache/internal/provider/twelvedata"
	"quotecache/internal/provider/yahoo"
	"quotecache/internal/quote"
)

var fixed = time.Date(2025, 3, 4, 15, 0, 0, 0, time.UTC)

func newNormalizer(opts ...normalize.Option) *normalize.Normalizer {
	return normalize.New(append([]normalize.Option{normalize.WithClock(func() time.Time { return fixed })}, opts...)...)
}

func TestNormalize_MissingOptionalAttributeIsAbsent(t *testing.T) {
	t.Parallel()

	// Arrange
	n := newNormalizer()
	raw := provider.RawFields{"price": json.Number("187.25"), "change": "1.10", "percent_change": "0.59"}

	// Act
	q, err := n.Normalize(twelvedata.Name, "AAPL", raw)

	// Assert
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("187.25").Equal(q.Price))
	require.Nil(t, q.DividendYieldPct)
	require.Nil(t, q.DividendAnnualAmount)
	require.Empty(t, q.Sector)
	require.Equal(t, quote.USD, q.Currency)
	require.Equal(t, twelvedata.Name, q.SourceProvider)
	require.Equal(t, fixed, q.FetchedAt)
}

func TestNormalize_YieldScalesAgree(t *testing.T) {
	t.Parallel()

	n := newNormalizer()

	fromFraction, err := n.Normalize(yahoo.Name, "PETR4.SA", provider.RawFields{"regularMarketPrice": 38.12, "dividendYield": json.Number("0.032")})
	require.NoError(t, err)
	fromPercent, err := n.Normalize(brapi.Name, "PETR4.SA", provider.RawFields{"regularMarketPrice": 38.12, "dividendYield": json.Number("3.2")})
	require.NoError(t, err)

	require.NotNil(t, fromFraction.DividendYieldPct)
	require.NotNil(t, fromPercent.DividendYieldPct)
	require.True(t, fromFraction.DividendYieldPct.Value.Equal(fromPercent.DividendYieldPct.Value))
	require.Equal(t, quote.OriginLive, fromPercent.DividendYieldPct.Origin)
	require.Equal(t, quote.BRL, fromPercent.Currency)
}

func TestNormalize_PerAttributeCoercionFailure(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	raw := provider.RawFields{
		"regularMarketPrice":  "38,12",
		"regularMarketChange": "n/a",
		"dividendYield":       "8.5%",
		"sector":              "Unknown",
	}

	q, err := n.Normalize(brapi.Name, "PETR4.SA", raw)

	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("38.12").Equal(q.Price))
	require.True(t, q.ChangeAbs.IsZero())
	require.True(t, decimal.RequireFromString("8.5").Equal(q.DividendYieldPct.Value))
	require.Empty(t, q.Sector)
}

func TestNormalize_NonPositiveYieldIsAbsent(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	q, err := n.Normalize(yahoo.Name, "KO", provider.RawFields{"regularMarketPrice": 60.0, "dividendYield": 0.0, "dividendRate": -1})

	require.NoError(t, err)
	require.Nil(t, q.DividendYieldPct)
	require.Nil(t, q.DividendAnnualAmount)
}

func TestNormalize_NothingUsableReturnsShell(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	q, err := n.Normalize(yahoo.Name, "ZZZZ", provider.RawFields{"foo": "bar", "regularMarketPrice": "garbage"})

	var nerr *normalize.Error
	require.ErrorAs(t, err, &nerr)
	require.Equal(t, "ZZZZ", nerr.Ticker)
	require.Equal(t, "ZZZZ", q.Ticker)
	require.True(t, q.Price.IsZero())
	require.NoError(t, q.Validate(nil))
}

func TestNormalize_CurrencyFromPayloadAndThousands(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	q, err := n.Normalize(twelvedata.Name, "BRK.A", provider.RawFields{"close": "612,345.10", "currency": "usd"})

	require.NoError(t, err)
	require.Equal(t, quote.USD, q.Currency)
	require.True(t, decimal.RequireFromString("612345.10").Equal(q.Price))
}

func TestNormalize_UnknownProviderUsesGenericSchema(t *testing.T) {
	t.Parallel()

	n := newNormalizer(normalize.WithYieldScale("custom", decimal.NewFromInt(100)))
	q, err := n.Normalize("custom", "MSFT", provider.RawFields{"current_price": 410, "dividend_yield": 0.0072})

	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(410).Equal(q.Price))
	require.True(t, decimal.RequireFromString("0.72").Equal(q.DividendYieldPct.Value))
}

func TestNormalize_CommaMeaningFollowsProvider(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	cases := []struct {
		name       string
		providerID string
		in         string
		want       string
	}{
		{"thousands group", yahoo.Name, "1,234", "1234"},
		{"millions", twelvedata.Name, "1,234,567", "1234567"},
		{"brazilian decimal", brapi.Name, "38,12", "38.12"},
		{"brazilian thousands and decimal", brapi.Name, "1.234,56", "1234.56"},
		{"us thousands and decimal", brapi.Name, "1,234.56", "1234.56"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			q, err := n.Normalize(tc.providerID, "X", provider.RawFields{"price": tc.in, "regularMarketPrice": tc.in})

			require.NoError(t, err)
			require.True(t, decimal.RequireFromString(tc.want).Equal(q.Price), q.Price.String())
		})
	}
}

func TestNormalize_CommaDecimalFromNonBrazilianProviderIsAbsent(t *testing.T) {
	t.Parallel()

	n := newNormalizer()
	q, err := n.Normalize(yahoo.Name, "KO", provider.RawFields{"regularMarketPrice": "60", "regularMarketChange": "0,45"})

	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(60).Equal(q.Price))
	require.True(t, q.ChangeAbs.IsZero())
}
