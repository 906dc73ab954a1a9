package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"quotecache/internal/market"
	"quotecache/internal/quote"
	"quotecache/internal/store"
)

const (
	DefaultTTL          = 30 * time.Minute
	DefaultMaxStaleness = 24 * time.Hour
	DefaultStoreTimeout = 2 * time.Second
)

var (
	// ErrNoDataAvailable is returned when a ticker has never been cached and
	// the resolve attempt failed. It wraps the resolve error.
	ErrNoDataAvailable = errors.New("no data available")
	ErrEmptyTicker     = errors.New("empty ticker")
)

// State is the lifecycle position of a ticker's entry.
type State string

const (
	StateEmpty      State = "empty"
	StateFresh      State = "fresh"
	StateStale      State = "stale"
	StateRefreshing State = "refreshing"
)

// Resolver produces a fresh quote; the fallback orchestrator implements it.
type Resolver interface {
	Resolve(ctx context.Context, ticker string, m market.Market) (quote.Quote, error)
}

// Result is what a read returns. Stale is set whenever the quote is older
// than the TTL, whether or not a refresh is under way.
type Result struct {
	Quote quote.Quote `json:"quote"`
	Stale bool        `json:"stale"`
	State State       `json:"state"`
}

// EntryInfo describes one hot-tier entry.
type EntryInfo struct {
	Ticker         string        `json:"ticker"`
	Market         market.Market `json:"market"`
	State          State         `json:"state"`
	Price          string        `json:"price"`
	SourceProvider string        `json:"source_provider"`
	InsertedAt     time.Time     `json:"inserted_at"`
	Refreshing     bool          `json:"refreshing"`
}

// flight is one resolve in progress for a ticker. done is closed once q or
// err is set.
type flight struct {
	done chan struct{}
	q    quote.Quote
	err  error
}

type entry struct {
	mu         sync.Mutex
	ticker     string
	market     market.Market
	quote      *quote.Quote
	insertedAt time.Time
	inflight   *flight
	cleared    bool
}

// Manager is the two-tier quote cache. Reads are served from the in-memory
// tier only; every successful resolve is written to the durable tier first
// and then to memory. The durable write runs outside the ticker's lock.
type Manager struct {
	resolver     Resolver
	store        store.Store
	ttl          time.Duration
	maxStaleness time.Duration
	storeTimeout time.Duration
	sources      []string
	now          func() time.Time
	logger       log.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry

	// clearMu orders durable writes (read side) against ClearCache.
	clearMu sync.RWMutex

	wg sync.WaitGroup
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxStaleness bounds how old a durable record may be to be restored.
// Zero restores everything.
func WithMaxStaleness(d time.Duration) Option {
	return func(m *Manager) { m.maxStaleness = d }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

// WithSources sets the adapter names accepted when restoring records.
func WithSources(names []string) Option {
	return func(m *Manager) { m.sources = names }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l log.FieldLogger) Option {
	return func(m *Manager) { m.logger = l }
}

// New builds a Manager. st may be nil, in which case only the memory tier
// is used.
func New(resolver Resolver, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		resolver:     resolver,
		store:        st,
		ttl:          DefaultTTL,
		maxStaleness: DefaultMaxStaleness,
		storeTimeout: DefaultStoreTimeout,
		now:          time.Now,
		logger:       log.StandardLogger(),
		entries:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// GetQuote returns the cached quote for ticker. A fresh entry is served
// as is. A stale entry is served immediately and one background refresh is
// started if none is running. An empty entry is resolved synchronously,
// sharing the resolve with any concurrent reader of the same ticker.
func (m *Manager) GetQuote(ctx context.Context, ticker string, mkt market.Market) (Result, error) {
	key := market.Qualify(ticker, mkt)
	if key == "" {
		return Result{}, ErrEmptyTicker
	}
	e := m.entry(key, mkt)

	e.mu.Lock()
	if e.quote != nil {
		q := e.quote.Clone()
		if !m.isStale(e) {
			e.mu.Unlock()
			return Result{Quote: q, State: StateFresh}, nil
		}
		if e.inflight == nil {
			m.start(e)
		}
		e.mu.Unlock()
		return Result{Quote: q, Stale: true, State: StateStale}, nil
	}
	f := e.inflight
	if f == nil {
		f = m.start(e)
	}
	e.mu.Unlock()

	q, err := wait(ctx, f)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%s: %w: %w", key, ErrNoDataAvailable, err)
	}
	return Result{Quote: q, State: StateFresh}, nil
}

// ForceRefresh resolves ticker now, or joins the refresh already running
// for it. The market is taken from the existing entry when there is one,
// otherwise inferred from the ticker. A failure leaves prior data in place.
func (m *Manager) ForceRefresh(ctx context.Context, ticker string) (Result, error) {
	e, err := m.lookupForRefresh(ticker)
	if err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	hadData := e.quote != nil
	f := e.inflight
	if f == nil {
		f = m.start(e)
	}
	e.mu.Unlock()

	q, err := wait(ctx, f)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Result{}, err
		}
		if !hadData {
			return Result{}, fmt.Errorf("%s: %w: %w", e.ticker, ErrNoDataAvailable, err)
		}
		return Result{}, fmt.Errorf("refresh %s: %w", e.ticker, err)
	}
	return Result{Quote: q, State: StateFresh}, nil
}

// ClearCache drops every entry from both tiers. Refreshes already running
// finish for their waiters but are not written back.
func (m *Manager) ClearCache(ctx context.Context) error {
	m.clearMu.Lock()
	defer m.clearMu.Unlock()

	m.mu.Lock()
	old := m.entries
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, e := range old {
		e.mu.Lock()
		e.cleared = true
		e.mu.Unlock()
	}
	m.logger.WithField("entries", len(old)).Info("cache cleared")

	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear durable tier: %w", err)
	}
	return nil
}

// Restore rebuilds the memory tier from the durable tier. Records older
// than the max staleness or failing validation are skipped; a ticker
// already in memory keeps its newer data. It returns how many entries were
// restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	recs, err := m.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load durable tier: %w", err)
	}

	now := m.now()
	restored := 0
	for _, rec := range recs {
		logger := m.logger.WithField("ticker", rec.Quote.Ticker)
		if m.maxStaleness > 0 && now.Sub(rec.InsertedAt) > m.maxStaleness {
			logger.WithField("inserted_at", rec.InsertedAt).Debug("restore: record too old")
			continue
		}
		if err := rec.Quote.Validate(m.sources); err != nil {
			logger.WithError(err).Warn("restore: skipping record")
			continue
		}

		e := m.entry(rec.Quote.Ticker, market.FromTicker(rec.Quote.Ticker))
		e.mu.Lock()
		if e.quote == nil || rec.InsertedAt.After(e.insertedAt) {
			q := rec.Quote.Clone()
			e.quote = &q
			e.insertedAt = rec.InsertedAt
			restored++
		}
		e.mu.Unlock()
	}
	m.logger.WithFields(log.Fields{"restored": restored, "records": len(recs)}).Info("cache restored")
	return restored, nil
}

// Snapshot lists the entries holding data, ordered by ticker.
func (m *Manager) Snapshot() []EntryInfo {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]EntryInfo, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		info := EntryInfo{Ticker: e.ticker, Market: e.market, Refreshing: e.inflight != nil}
		switch {
		case e.quote == nil && e.inflight == nil:
			e.mu.Unlock()
			continue
		case e.quote == nil:
			info.State = StateRefreshing
		default:
			info.Price = e.quote.Price.String()
			info.SourceProvider = e.quote.SourceProvider
			info.InsertedAt = e.insertedAt
			switch {
			case e.inflight != nil:
				info.State = StateRefreshing
			case m.isStale(e):
				info.State = StateStale
			default:
				info.State = StateFresh
			}
		}
		e.mu.Unlock()
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

// Wait blocks until every refresh started so far has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) entry(key string, mkt market.Market) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{ticker: key, market: mkt}
		m.entries[key] = e
	}
	return e
}

func (m *Manager) lookupForRefresh(ticker string) (*entry, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return nil, ErrEmptyTicker
	}
	m.mu.Lock()
	if e, ok := m.entries[t]; ok {
		m.mu.Unlock()
		return e, nil
	}
	for _, mkt := range market.All {
		if e, ok := m.entries[market.Qualify(t, mkt)]; ok {
			m.mu.Unlock()
			return e, nil
		}
	}
	m.mu.Unlock()

	mkt := market.FromTicker(t)
	return m.entry(market.Qualify(t, mkt), mkt), nil
}

// isStale evaluates the TTL lazily at read time. e.mu must be held.
func (m *Manager) isStale(e *entry) bool {
	return m.now().Sub(e.insertedAt) > m.ttl
}

// start launches a resolve for e. e.mu must be held.
func (m *Manager) start(e *entry) *flight {
	f := &flight{done: make(chan struct{})}
	e.inflight = f
	m.wg.Add(1)
	go m.refresh(e, f)
	return f
}

func (m *Manager) refresh(e *entry, f *flight) {
	defer m.wg.Done()

	logger := m.logger.WithFields(log.Fields{"ticker": e.ticker, "market": e.market})
	q, err := m.resolver.Resolve(context.Background(), e.ticker, e.market)
	var insertedAt time.Time
	if err == nil {
		insertedAt = m.now()
		m.persist(logger, e, store.Record{Quote: q, InsertedAt: insertedAt})
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	defer close(f.done)
	e.inflight = nil

	if err != nil {
		f.err = err
		if e.quote != nil {
			logger.WithError(err).Warn("background refresh failed; keeping stale data")
		} else {
			logger.WithError(err).Warn("resolve failed")
		}
		return
	}

	f.q = q
	if e.cleared {
		return
	}
	stored := q.Clone()
	e.quote = &stored
	e.insertedAt = insertedAt
}

// persist writes rec to the durable tier unless e has been cleared. e.mu
// must not be held: readers of the ticker keep being served while the
// store call runs. A failure is logged and the memory tier is still
// updated by the caller.
func (m *Manager) persist(logger log.FieldLogger, e *entry, rec store.Record) {
	if m.store == nil {
		return
	}
	m.clearMu.RLock()
	defer m.clearMu.RUnlock()

	e.mu.Lock()
	cleared := e.cleared
	e.mu.Unlock()
	if cleared {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.storeTimeout)
	defer cancel()
	if err := m.store.Put(ctx, rec); err != nil {
		logger.WithError(err).Error("durable tier write failed")
	}
}

func wait(ctx context.Context, f *flight) (quote.Quote, error) {
	select {
	case <-ctx.Done():
		return quote.Quote{}, ctx.Err()
	case <-f.done:
		if f.err != nil {
			return quote.Quote{}, f.err
		}
		return f.q.Clone(), nil
	}
}
