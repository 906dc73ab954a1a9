package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"quotecache/internal/cache"
	"quotecache/internal/config"
	"quotecache/internal/fallback"
	"quotecache/internal/httpx"
	"quotecache/internal/market"
	"quotecache/internal/normalize"
	"quotecache/internal/provider"
	"quotecache/internal/provider/alphavantage"
	"quotecache/internal/provider/brapi"
	"quotecache/internal/provider/ratelimit"
	"quotecache/internal/provider/twelvedata"
	"quotecache/internal/provider/yahoo"
	"quotecache/internal/scheduler"
	"quotecache/internal/staticdata"
	"quotecache/internal/store"
)

// App holds the wired service: adapters behind the rate guard, the
// orchestrator, the durable tier and the cache manager.
type App struct {
	Config       config.Config
	Guard        *ratelimit.Guard
	Orchestrator *fallback.Orchestrator
	Store        store.Store
	Manager      *cache.Manager
	Warmer       *scheduler.Warmer

	logger     *log.Logger
	httpClient httpx.HTTPClient
	redis      *store.Redis
}

type Option func(*App)

// WithHTTPClient replaces the shared HTTP client used by every adapter.
func WithHTTPClient(hc httpx.HTTPClient) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithLogger replaces the standard logrus logger.
func WithLogger(l *log.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New wires cfg into a ready App and restores the cache from the durable
// tier. A restore failure is logged; the service starts with an empty cache.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, logger: log.StandardLogger()}
	for _, opt := range opts {
		opt(a)
	}
	if err := cfg.Log.Apply(a.logger); err != nil {
		return nil, err
	}
	if a.httpClient == nil {
		a.httpClient = httpx.New(cfg.Fetch.AdapterTimeout())
	}

	a.Guard = ratelimit.NewGuard()
	regs, normOpts, err := a.registrations()
	if err != nil {
		return nil, err
	}

	table, err := staticdata.Load(cfg.StaticData.File)
	if err != nil {
		return nil, err
	}
	policies, err := policies(cfg.Markets)
	if err != nil {
		return nil, err
	}

	lists := map[market.Market][]provider.Registration{
		market.US:     pick(regs, cfg.Markets.US.Providers),
		market.Brazil: pick(regs, cfg.Markets.Brazil.Providers),
	}
	a.Orchestrator = fallback.New(lists, a.Guard, normalize.New(normOpts...), staticdata.NewEnricher(table, policies),
		fallback.WithAdapterTimeout(cfg.Fetch.AdapterTimeout()),
		fallback.WithLogger(a.logger),
	)

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}
	a.Manager = cache.New(a.Orchestrator, a.Store,
		cache.WithTTL(cfg.Cache.TTL()),
		cache.WithMaxStaleness(cfg.Cache.MaxStaleness()),
		cache.WithStoreTimeout(cfg.Cache.StoreTimeout()),
		cache.WithSources(a.Orchestrator.AllProviders()),
		cache.WithLogger(a.logger),
	)
	if _, err := a.Manager.Restore(ctx); err != nil {
		a.logger.WithError(err).Error("cache restore failed; starting empty")
	}

	items, err := scheduler.ParseWatchlist(cfg.Scheduler.Watchlist)
	if err != nil {
		return nil, err
	}
	a.Warmer = scheduler.New(a.Manager, items,
		scheduler.WithSpec(cfg.Scheduler.Spec),
		scheduler.WithTimeout(cfg.Server.RequestTimeout()),
		scheduler.WithLogger(a.logger),
	)
	return a, nil
}

// Start launches the watchlist warmer when it is enabled.
func (a *App) Start() error {
	if !a.Config.Scheduler.Enabled || len(a.Warmer.Items()) == 0 {
		return nil
	}
	return a.Warmer.Start()
}

// Close stops the warmer, waits for background refreshes and releases the
// durable tier.
func (a *App) Close() error {
	a.Warmer.Stop()
	a.Manager.Wait()
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}

// ProviderStatus lists the rate guard view of every configured adapter.
func (a *App) ProviderStatus() []ratelimit.Status {
	names := a.Orchestrator.AllProviders()
	out := make([]ratelimit.Status, 0, len(names))
	for _, name := range names {
		if st, ok := a.Guard.Status(name); ok {
			out = append(out, st)
			continue
		}
		out = append(out, ratelimit.Status{Provider: name, Available: true})
	}
	return out
}

func (a *App) registrations() (map[string]provider.Registration, []normalize.Option, error) {
	regs := make(map[string]provider.Registration)
	var normOpts []normalize.Option
	for _, np := range a.Config.Providers.All() {
		if !np.Enabled {
			continue
		}
		if np.APIKey == "" && keyRequired(np.Name) {
			a.logger.WithField("provider", np.Name).Warn("enabled but no API key set; not registering it")
			continue
		}
		adapter := a.adapter(np)
		quota := ratelimit.Quota{
			RequestsPerMinute: np.MaxRequestsPerMinute,
			Burst:             np.Burst,
			MinInterval:       np.MinInterval(),
			Cooldown:          np.Cooldown(),
		}
		a.Guard.Register(np.Name, quota)
		regs[np.Name] = provider.Registration{Adapter: adapter, Priority: np.Priority, Quota: quota}

		if s := strings.TrimSpace(np.YieldScale); s != "" {
			scale, err := decimal.NewFromString(s)
			if err != nil {
				return nil, nil, fmt.Errorf("providers.%s.yield_scale: %w", np.Name, err)
			}
			normOpts = append(normOpts, normalize.WithYieldScale(np.Name, scale))
		}
	}
	return regs, normOpts, nil
}

func keyRequired(name string) bool {
	return name == config.TwelveData || name == config.AlphaVantage
}

func (a *App) adapter(np config.NamedProvider) provider.Adapter {
	switch np.Name {
	case config.TwelveData:
		opts := []twelvedata.Option{twelvedata.WithHTTPClient(a.httpClient)}
		if np.BaseURL != "" {
			opts = append(opts, twelvedata.WithBaseURL(np.BaseURL))
		}
		return twelvedata.New(np.APIKey, opts...)
	case config.AlphaVantage:
		opts := []alphavantage.Option{alphavantage.WithHTTPClient(a.httpClient)}
		if np.BaseURL != "" {
			opts = append(opts, alphavantage.WithBaseURL(np.BaseURL))
		}
		return alphavantage.New(np.APIKey, opts...)
	case config.Brapi:
		opts := []brapi.Option{brapi.WithHTTPClient(a.httpClient)}
		if np.BaseURL != "" {
			opts = append(opts, brapi.WithBaseURL(np.BaseURL))
		}
		return brapi.New(np.APIKey, opts...)
	default:
		opts := []yahoo.Option{yahoo.WithHTTPClient(a.httpClient)}
		if np.BaseURL != "" {
			opts = append(opts, yahoo.WithBaseURL(np.BaseURL))
		}
		return yahoo.New(opts...)
	}
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Cache.Backend {
	case "redis":
		r, err := store.DialRedis(ctx, a.Config.Cache.RedisAddr, a.Config.Cache.RedisPrefix)
		if err != nil {
			return err
		}
		a.redis = r
		a.Store = r
	case "memory":
		a.Store = nil
	default:
		a.Store = store.NewFile(a.Config.Cache.File)
	}
	a.logger.WithField("backend", a.Config.Cache.Backend).Info("durable tier ready")
	return nil
}

// pick returns the enabled registrations named in names. The list order is
// the market's priority order; an empty list falls back to every enabled
// adapter ranked by its provider priority.
func pick(regs map[string]provider.Registration, names []string) []provider.Registration {
	if len(names) == 0 {
		out := make([]provider.Registration, 0, len(regs))
		for _, np := range []string{config.TwelveData, config.AlphaVantage, config.Brapi, config.Yahoo} {
			if r, ok := regs[np]; ok {
				out = append(out, r)
			}
		}
		return provider.SortByPriority(out)
	}
	out := make([]provider.Registration, 0, len(names))
	for _, name := range names {
		if r, ok := regs[name]; ok {
			r.Priority = len(out) + 1
			out = append(out, r)
		}
	}
	return out
}

func policies(m config.Markets) (map[market.Market]staticdata.Policy, error) {
	out := make(map[market.Market]staticdata.Policy, 2)
	for mk, mc := range map[market.Market]config.Market{market.US: m.US, market.Brazil: m.Brazil} {
		sector, err := staticdata.ParsePrecedence(mc.SectorPrecedence)
		if err != nil {
			return nil, fmt.Errorf("markets.%s: %w", strings.ToLower(mk.String()), err)
		}
		dividend, err := staticdata.ParsePrecedence(mc.DividendPrecedence)
		if err != nil {
			return nil, fmt.Errorf("markets.%s: %w", strings.ToLower(mk.String()), err)
		}
		out[mk] = staticdata.Policy{Sector: sector, Dividend: dividend}
	}
	return out, nil
}
