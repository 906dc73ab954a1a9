package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"quotecache/internal/cache"
	"quotecache/internal/market"
)

// DefaultSpec re-reads the watchlist every five minutes.
const DefaultSpec = "@every 5m"

// Reader is the cache read path the warmer drives.
type Reader interface {
	GetQuote(ctx context.Context, ticker string, m market.Market) (cache.Result, error)
}

// Item is one watchlist entry.
type Item struct {
	Ticker string
	Market market.Market
}

// ParseWatchlist parses TICKER[:market] entries. A ticker with no market
// part uses the market implied by its suffix.
func ParseWatchlist(entries []string) ([]Item, error) {
	out := make([]Item, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ticker, mk, hasMarket := strings.Cut(raw, ":")
		m := market.FromTicker(ticker)
		if hasMarket {
			parsed, err := market.Parse(mk)
			if err != nil {
				return nil, fmt.Errorf("watchlist entry %q: %w", raw, err)
			}
			m = parsed
		}
		out = append(out, Item{Ticker: market.Qualify(ticker, m), Market: m})
	}
	return out, nil
}

// Summary counts the outcome of one warm pass.
type Summary struct {
	Fresh  int
	Stale  int
	Failed int
}

// Warmer reads every watchlist entry on a cron schedule. Reads go through
// the normal cache path, so stale entries get their background refresh and
// empty ones are resolved.
type Warmer struct {
	reader  Reader
	items   []Item
	spec    string
	timeout time.Duration
	logger  log.FieldLogger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
	cancel  context.CancelFunc
}

type Option func(*Warmer)

func WithSpec(spec string) Option {
	return func(w *Warmer) {
		if spec != "" {
			w.spec = spec
		}
	}
}

// WithTimeout bounds each individual read.
func WithTimeout(d time.Duration) Option {
	return func(w *Warmer) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithLogger(l log.FieldLogger) Option {
	return func(w *Warmer) { w.logger = l }
}

func New(reader Reader, items []Item, opts ...Option) *Warmer {
	w := &Warmer{
		reader:  reader,
		items:   items,
		spec:    DefaultSpec,
		timeout: 30 * time.Second,
		logger:  log.StandardLogger(),
		cron:    cron.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Warmer) Items() []Item { return append([]Item(nil), w.items...) }

// RunOnce reads every watchlist entry once, sequentially.
func (w *Warmer) RunOnce(ctx context.Context) Summary {
	var s Summary
	for _, it := range w.items {
		if ctx.Err() != nil {
			s.Failed++
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, w.timeout)
		res, err := w.reader.GetQuote(rctx, it.Ticker, it.Market)
		cancel()

		logger := w.logger.WithFields(log.Fields{"ticker": it.Ticker, "market": it.Market})
		switch {
		case err != nil:
			s.Failed++
			logger.WithError(err).Warn("warm: read failed")
		case res.Stale:
			s.Stale++
		default:
			s.Fresh++
		}
	}
	return s
}

// Start schedules RunOnce on the configured spec.
func (w *Warmer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("warmer is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	id, err := w.cron.AddFunc(w.spec, func() {
		start := time.Now()
		s := w.RunOnce(ctx)
		w.logger.WithFields(log.Fields{
			"fresh":   s.Fresh,
			"stale":   s.Stale,
			"failed":  s.Failed,
			"elapsed": time.Since(start).String(),
		}).Info("watchlist warmed")
	})
	if err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", w.spec, err)
	}
	w.entryID = id
	w.cancel = cancel
	w.cron.Start()
	w.running = true
	w.logger.WithFields(log.Fields{"spec": w.spec, "items": len(w.items)}).Info("warmer started")
	return nil
}

// Stop cancels running reads and waits for the current pass to return.
// The Warmer can be started again afterwards.
func (w *Warmer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.cancel()
	<-w.cron.Stop().Done()
	w.cron.Remove(w.entryID)
	w.running = false
}

// NextRun reports when the next pass is due; zero when not started.
func (w *Warmer) NextRun() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return time.Time{}
	}
	return w.cron.Entry(w.entryID).Next
}
