package cache_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotecache/internal/cache"
	"quotecache/internal/fallback"
	"quotecache/internal/market"
	"quotecache/internal/normalize"
	"quotecache/internal/provider"
	"quotecache/internal/provider/providermock"
	"quotecache/internal/provider/ratelimit"
	"quotecache/internal/quote"
	"quotecache/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 5, 6, 14, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeResolver counts calls per ticker. When gate is set every call waits
// for it to close.
type fakeResolver struct {
	mu    sync.Mutex
	calls map[string]int
	mkts  map[string]market.Market
	price string
	err   error
	gate  chan struct{}
	clock *fakeClock
}

func newResolver(clock *fakeClock, price string) *fakeResolver {
	return &fakeResolver{calls: map[string]int{}, mkts: map[string]market.Market{}, price: price, clock: clock}
}

func (r *fakeResolver) Resolve(_ context.Context, ticker string, m market.Market) (quote.Quote, error) {
	r.mu.Lock()
	r.calls[ticker]++
	r.mkts[ticker] = m
	gate, price, err := r.gate, r.price, r.err
	r.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return quote.Quote{}, err
	}
	return quote.Quote{
		Ticker:         ticker,
		Price:          decimal.RequireFromString(price),
		Currency:       quote.Currency(m.Currency()),
		SourceProvider: "yahoo",
		FetchedAt:      r.clock.Now(),
	}, nil
}

func (r *fakeResolver) set(price string, err error) {
	r.mu.Lock()
	r.price, r.err = price, err
	r.mu.Unlock()
}

func (r *fakeResolver) setGate(g chan struct{}) {
	r.mu.Lock()
	r.gate = g
	r.mu.Unlock()
}

func (r *fakeResolver) count(ticker string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[ticker]
}

type failingStore struct{ store.Store }

func (failingStore) Put(context.Context, store.Record) error { return errors.New("disk full") }

// blockingStore holds the first Put until release is closed.
type blockingStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingStore(inner store.Store) *blockingStore {
	return &blockingStore{Store: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingStore) Put(ctx context.Context, rec store.Record) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Store.Put(ctx, rec)
}

func newManager(t *testing.T, r cache.Resolver, clk *fakeClock, st store.Store, opts ...cache.Option) *cache.Manager {
	t.Helper()
	base := []cache.Option{cache.WithClock(clk.Now), cache.WithTTL(30 * time.Minute), cache.WithMaxStaleness(24 * time.Hour)}
	m := cache.New(r, st, append(base, opts...)...)
	t.Cleanup(m.Wait)
	return m
}

func fileStore(t *testing.T) *store.File {
	t.Helper()
	return store.NewFile(filepath.Join(t.TempDir(), "cache.json"))
}

func storedRecord(ticker, price string, insertedAt time.Time) store.Record {
	return store.Record{
		Quote: quote.Quote{
			Ticker:         ticker,
			Price:          decimal.RequireFromString(price),
			Currency:       quote.USD,
			SourceProvider: "yahoo",
			FetchedAt:      insertedAt,
		},
		InsertedAt: insertedAt,
	}
}

func TestGetQuote_EmptyResolvesAndPersists(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	r := newResolver(clk, "187.2")
	st := fileStore(t)
	m := newManager(t, r, clk, st)

	// Act
	res, err := m.GetQuote(t.Context(), "aapl", market.US)

	// Assert
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.Equal(t, cache.StateFresh, res.State)
	require.Equal(t, "AAPL", res.Quote.Ticker)
	require.Equal(t, 1, r.count("AAPL"))

	recs, err := st.Load(t.Context())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.True(t, decimal.RequireFromString("187.2").Equal(recs[0].Quote.Price))
}

func TestGetQuote_FreshReadNeverCallsOut(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "10")
	m := newManager(t, r, clk, nil)

	_, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)

	clk.Advance(29 * time.Minute)
	for i := 0; i < 100; i++ {
		res, err := m.GetQuote(t.Context(), "KO", market.US)
		require.NoError(t, err)
		require.False(t, res.Stale)
	}
	m.Wait()
	require.Equal(t, 1, r.count("KO"))
}

func TestGetQuote_ConcurrentStaleReadsTriggerOneRefresh(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	r := newResolver(clk, "10")
	m := newManager(t, r, clk, nil)
	_, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)

	clk.Advance(31 * time.Minute)
	gate := make(chan struct{})
	r.setGate(gate)
	r.set("11", nil)

	// Act
	const readers = 50
	var wg sync.WaitGroup
	results := make([]cache.Result, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = m.GetQuote(context.Background(), "KO", market.US)
		}(i)
	}
	wg.Wait()
	close(gate)
	m.Wait()

	// Assert
	for _, res := range results {
		require.True(t, res.Stale)
		require.True(t, decimal.NewFromInt(10).Equal(res.Quote.Price))
	}
	require.Equal(t, 2, r.count("KO"))

	res, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.True(t, decimal.NewFromInt(11).Equal(res.Quote.Price))
}

func TestGetQuote_ConcurrentEmptyReadsShareOneResolve(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "38.1")
	gate := make(chan struct{})
	r.setGate(gate)
	m := newManager(t, r, clk, nil)

	const readers = 50
	var wg sync.WaitGroup
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetQuote(context.Background(), "PETR4", market.Brazil)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 1, r.count("PETR4.SA"))
}

func TestGetQuote_EmptyFailureIsNoDataAvailable(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "1")
	r.set("", fallback.ErrNoProviderAvailable)
	m := newManager(t, r, clk, nil)

	_, err := m.GetQuote(t.Context(), "NOPE", market.US)

	require.ErrorIs(t, err, cache.ErrNoDataAvailable)
	require.ErrorIs(t, err, fallback.ErrNoProviderAvailable)
	require.Empty(t, m.Snapshot())

	// the ticker stays empty and the next read tries again
	r.set("2", nil)
	res, err := m.GetQuote(t.Context(), "NOPE", market.US)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(2).Equal(res.Quote.Price))
	require.Equal(t, 2, r.count("NOPE"))
}

func TestGetQuote_CallerGivingUpDoesNotCancelResolve(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "5")
	gate := make(chan struct{})
	r.setGate(gate)
	m := newManager(t, r, clk, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := m.GetQuote(ctx, "F", market.US)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	m.Wait()

	res, err := m.GetQuote(t.Context(), "F", market.US)
	require.NoError(t, err)
	require.Equal(t, cache.StateFresh, res.State)
	require.Equal(t, 1, r.count("F"))
}

func TestGetQuote_AllRateLimitedServesStaleAndSchedulesOneRefresh(t *testing.T) {
	t.Parallel()

	// Arrange: one adapter whose quota is in cooldown
	clk := newClock()
	ctrl := gomock.NewController(t)
	a := providermock.NewMockAdapter(ctrl)
	a.EXPECT().Name().Return("twelvedata").AnyTimes()
	a.EXPECT().Fetch(gomock.Any(), gomock.Any()).Times(0)

	guard := ratelimit.NewGuard(ratelimit.WithClock(clk.Now))
	guard.Register("twelvedata", ratelimit.Quota{RequestsPerMinute: 8, Burst: 8})
	guard.RecordAttempt("twelvedata", ratelimit.OutcomeRateLimited)

	orch := fallback.New(map[market.Market][]provider.Registration{
		market.US: {{Adapter: a, Priority: 1}},
	}, guard, normalize.New(), nil)
	counting := &countingResolver{next: orch}

	st := fileStore(t)
	require.NoError(t, st.Put(t.Context(), storedRecord("KO", "10.0", clk.Now().Add(-time.Hour))))
	m := newManager(t, counting, clk, st)
	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Act
	res, err := m.GetQuote(t.Context(), "KO", market.US)
	m.Wait()

	// Assert
	require.NoError(t, err)
	require.True(t, res.Stale)
	require.True(t, decimal.RequireFromString("10.0").Equal(res.Quote.Price))
	require.Equal(t, 1, counting.count())

	again, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.True(t, again.Stale)
	require.True(t, decimal.RequireFromString("10.0").Equal(again.Quote.Price))
}

type countingResolver struct {
	mu   sync.Mutex
	n    int
	next cache.Resolver
}

func (c *countingResolver) Resolve(ctx context.Context, ticker string, m market.Market) (quote.Quote, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.next.Resolve(ctx, ticker, m)
}

func (c *countingResolver) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRestore_TooOldEntryIsEmpty(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "99")
	st := fileStore(t)
	require.NoError(t, st.Put(t.Context(), storedRecord("KO", "10", clk.Now().Add(-48*time.Hour))))
	m := newManager(t, r, clk, st)

	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, m.Snapshot())

	res, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.True(t, decimal.NewFromInt(99).Equal(res.Quote.Price))
	require.Equal(t, 1, r.count("KO"))
}

func TestRestore_TTLMarksStaleWithoutEvicting(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "1")
	r.set("", fallback.ErrNoProviderAvailable)
	st := fileStore(t)
	require.NoError(t, st.Put(t.Context(), storedRecord("AAPL", "180", clk.Now().Add(-20*time.Hour))))
	require.NoError(t, st.Put(t.Context(), storedRecord("MSFT", "410", clk.Now().Add(-5*time.Minute))))
	m := newManager(t, r, clk, st, cache.WithSources([]string{"yahoo"}))

	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	snap := m.Snapshot()
	require.Len(t, snap, 2)
	require.Equal(t, cache.StateStale, snap[0].State)
	require.Equal(t, cache.StateFresh, snap[1].State)

	res, err := m.GetQuote(t.Context(), "AAPL", market.US)
	m.Wait()
	require.NoError(t, err)
	require.True(t, res.Stale)
	require.Len(t, m.Snapshot(), 2)
}

func TestRestore_SkipsUnknownSource(t *testing.T) {
	t.Parallel()

	clk := newClock()
	st := fileStore(t)
	require.NoError(t, st.Put(t.Context(), storedRecord("AAPL", "180", clk.Now())))
	m := newManager(t, newResolver(clk, "1"), clk, st, cache.WithSources([]string{"twelvedata"}))

	n, err := m.Restore(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestForceRefresh_InfersMarketAndReplacesData(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "38")
	m := newManager(t, r, clk, nil)
	_, err := m.GetQuote(t.Context(), "PETR4", market.Brazil)
	require.NoError(t, err)

	r.set("39", nil)
	res, err := m.ForceRefresh(t.Context(), "petr4")

	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(39).Equal(res.Quote.Price))
	require.Equal(t, 2, r.count("PETR4.SA"))
	require.Equal(t, market.Brazil, r.mkts["PETR4.SA"])
}

func TestForceRefresh_FailureKeepsPriorData(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "60")
	m := newManager(t, r, clk, nil)
	_, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)

	r.set("", fallback.ErrNoProviderAvailable)
	_, err = m.ForceRefresh(t.Context(), "KO")
	require.ErrorIs(t, err, fallback.ErrNoProviderAvailable)
	require.NotErrorIs(t, err, cache.ErrNoDataAvailable)

	res, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(60).Equal(res.Quote.Price))
}

func TestForceRefresh_UnknownTickerWithoutData(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "1")
	r.set("", fallback.ErrNoProviderAvailable)
	m := newManager(t, r, clk, nil)

	_, err := m.ForceRefresh(t.Context(), "VALE3.SA")
	require.ErrorIs(t, err, cache.ErrNoDataAvailable)
	require.Equal(t, market.Brazil, r.mkts["VALE3.SA"])
}

func TestForceRefresh_AttachesToRunningRefresh(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "10")
	m := newManager(t, r, clk, nil)
	_, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)

	clk.Advance(time.Hour)
	gate := make(chan struct{})
	r.setGate(gate)
	r.set("12", nil)
	res, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.True(t, res.Stale)

	done := make(chan cache.Result, 1)
	go func() {
		res, _ := m.ForceRefresh(context.Background(), "KO")
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	close(gate)

	require.True(t, decimal.NewFromInt(12).Equal((<-done).Quote.Price))
	require.Equal(t, 2, r.count("KO"))
}

func TestClearCache_EmptiesBothTiers(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "10")
	st := fileStore(t)
	m := newManager(t, r, clk, st)
	_, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)

	require.NoError(t, m.ClearCache(t.Context()))

	require.Empty(t, m.Snapshot())
	recs, err := st.Load(t.Context())
	require.NoError(t, err)
	require.Empty(t, recs)

	_, err = m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.Equal(t, 2, r.count("KO"))
}

func TestDurableWriteFailureStillServes(t *testing.T) {
	t.Parallel()

	clk := newClock()
	r := newResolver(clk, "10")
	m := newManager(t, r, clk, failingStore{Store: fileStore(t)})

	res, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10).Equal(res.Quote.Price))

	again, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.Equal(t, cache.StateFresh, again.State)
	require.Equal(t, 1, r.count("KO"))
}

func TestGetQuote_EmptyTicker(t *testing.T) {
	t.Parallel()

	clk := newClock()
	m := newManager(t, newResolver(clk, "1"), clk, nil)
	_, err := m.GetQuote(t.Context(), "  ", market.US)
	require.ErrorIs(t, err, cache.ErrEmptyTicker)
}

func TestGetQuote_StaleOnlyPastTTL(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	r := newResolver(clk, "2")
	st := fileStore(t)
	require.NoError(t, st.Put(t.Context(), storedRecord("KO", "60", clk.Now().Add(-30*time.Minute))))
	m := newManager(t, r, clk, st)
	_, err := m.Restore(t.Context())
	require.NoError(t, err)

	// Act: exactly one TTL old
	res, err := m.GetQuote(t.Context(), "KO", market.US)

	// Assert
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.Equal(t, cache.StateFresh, res.State)
	require.Zero(t, r.count("KO"))

	clk.Advance(time.Nanosecond)
	res, err = m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.True(t, res.Stale)
}

func TestGetQuote_SlowDurableWriteDoesNotBlockReaders(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	r := newResolver(clk, "11")
	inner := fileStore(t)
	require.NoError(t, inner.Put(t.Context(), storedRecord("KO", "10", clk.Now().Add(-time.Hour))))
	st := newBlockingStore(inner)
	m := newManager(t, r, clk, st, cache.WithStoreTimeout(time.Minute))
	_, err := m.Restore(t.Context())
	require.NoError(t, err)

	first, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.True(t, first.Stale)
	<-st.entered

	// Act: the refresh is parked inside Put
	done := make(chan cache.Result, 1)
	go func() {
		res, _ := m.GetQuote(context.Background(), "KO", market.US)
		done <- res
	}()

	// Assert
	select {
	case res := <-done:
		require.True(t, res.Stale)
		require.True(t, decimal.RequireFromString("10").Equal(res.Quote.Price))
	case <-time.After(time.Second):
		t.Fatal("reader blocked behind the durable write")
	}
	close(st.release)
	m.Wait()

	res, err := m.GetQuote(t.Context(), "KO", market.US)
	require.NoError(t, err)
	require.False(t, res.Stale)
	require.True(t, decimal.RequireFromString("11").Equal(res.Quote.Price))
	require.Equal(t, 1, r.count("KO"))
}

func TestClearCache_WaitsForDurableWriteAndDropsIt(t *testing.T) {
	t.Parallel()

	// Arrange
	clk := newClock()
	r := newResolver(clk, "11")
	inner := fileStore(t)
	st := newBlockingStore(inner)
	m := newManager(t, r, clk, st, cache.WithStoreTimeout(time.Minute))

	resolved := make(chan error, 1)
	go func() {
		_, err := m.GetQuote(context.Background(), "KO", market.US)
		resolved <- err
	}()
	<-st.entered

	// Act
	cleared := make(chan error, 1)
	go func() { cleared <- m.ClearCache(context.Background()) }()
	close(st.release)

	// Assert
	require.NoError(t, <-cleared)
	require.NoError(t, <-resolved)
	m.Wait()
	recs, err := inner.Load(t.Context())
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Empty(t, m.Snapshot())
}
