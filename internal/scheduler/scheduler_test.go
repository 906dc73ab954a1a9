package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quotecache/internal/cache"
	"quotecache/internal/market"
	"quotecache/internal/scheduler"
)

type fakeReader struct {
	mu    sync.Mutex
	reads []scheduler.Item
	stale map[string]bool
	fail  map[string]bool
}

func (r *fakeReader) GetQuote(_ context.Context, ticker string, m market.Market) (cache.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads = append(r.reads, scheduler.Item{Ticker: ticker, Market: m})
	if r.fail[ticker] {
		return cache.Result{}, errors.New("no data")
	}
	return cache.Result{Stale: r.stale[ticker]}, nil
}

func (r *fakeReader) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reads)
}

func TestParseWatchlist(t *testing.T) {
	t.Parallel()

	items, err := scheduler.ParseWatchlist([]string{"aapl", " PETR4:brazil ", "", "VALE3.SA", "KO:nyse"})

	require.NoError(t, err)
	require.Equal(t, []scheduler.Item{
		{Ticker: "AAPL", Market: market.US},
		{Ticker: "PETR4.SA", Market: market.Brazil},
		{Ticker: "VALE3.SA", Market: market.Brazil},
		{Ticker: "KO", Market: market.US},
	}, items)

	_, err = scheduler.ParseWatchlist([]string{"X:mars"})
	require.Error(t, err)
}

func TestRunOnce_CountsOutcomes(t *testing.T) {
	t.Parallel()

	// Arrange
	items, err := scheduler.ParseWatchlist([]string{"AAPL", "KO", "PETR4:br"})
	require.NoError(t, err)
	r := &fakeReader{stale: map[string]bool{"KO": true}, fail: map[string]bool{"PETR4.SA": true}}
	w := scheduler.New(r, items)

	// Act
	s := w.RunOnce(t.Context())

	// Assert
	require.Equal(t, scheduler.Summary{Fresh: 1, Stale: 1, Failed: 1}, s)
	require.Equal(t, market.Brazil, r.reads[2].Market)
}

func TestStart_RunsOnSchedule(t *testing.T) {
	t.Parallel()

	items, err := scheduler.ParseWatchlist([]string{"AAPL"})
	require.NoError(t, err)
	r := &fakeReader{}
	w := scheduler.New(r, items, scheduler.WithSpec("@every 1s"))

	require.NoError(t, w.Start())
	require.Error(t, w.Start())
	require.False(t, w.NextRun().IsZero())

	require.Eventually(t, func() bool { return r.count() > 0 }, 5*time.Second, 50*time.Millisecond)
	w.Stop()
	require.True(t, w.NextRun().IsZero())
}

func TestStart_RestartAfterStopKeepsReading(t *testing.T) {
	t.Parallel()

	// Arrange
	items, err := scheduler.ParseWatchlist([]string{"AAPL"})
	require.NoError(t, err)
	r := &fakeReader{}
	w := scheduler.New(r, items, scheduler.WithSpec("@every 1s"))
	require.NoError(t, w.Start())
	require.Eventually(t, func() bool { return r.count() > 0 }, 5*time.Second, 50*time.Millisecond)
	w.Stop()
	before := r.count()

	// Act
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	// Assert
	require.Eventually(t, func() bool { return r.count() > before }, 5*time.Second, 50*time.Millisecond)
}

func TestStart_BadSpec(t *testing.T) {
	t.Parallel()

	w := scheduler.New(&fakeReader{}, nil, scheduler.WithSpec("every so often"))
	require.Error(t, w.Start())
}
