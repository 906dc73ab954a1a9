package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "gopkg.in/yaml.v3"
)

type Server struct {
    Port              string `json:"port" yaml:"port"`
    RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
}

type Log struct {
    Level  string `json:"level" yaml:"level"`
    Format string `json:"format" yaml:"format"` // text | json
}

type Cache struct {
    TTLSec          int    `json:"ttl_sec" yaml:"ttl_sec"`
    MaxStalenessSec int    `json:"max_staleness_sec" yaml:"max_staleness_sec"`
    Backend         string `json:"backend" yaml:"backend"` // file | redis
    File            string `json:"file" yaml:"file"`
    RedisAddr       string `json:"redis_addr" yaml:"redis_addr"`
    RedisPrefix     string `json:"redis_prefix" yaml:"redis_prefix"`
    StoreTimeoutMS  int    `json:"store_timeout_ms" yaml:"store_timeout_ms"`
}

type Fetch struct {
    AdapterTimeoutSec int `json:"adapter_timeout_sec" yaml:"adapter_timeout_sec"`
}

// Provider configures one adapter and its quota.
// YieldScale, when set, overrides the adapter's built-in dividend yield
// scale ("100" for fractions, "1" for percentages).
type Provider struct {
    Enabled              bool   `json:"enabled" yaml:"enabled"`
    APIKey               string `json:"api_key" yaml:"api_key"`
    BaseURL              string `json:"base_url" yaml:"base_url"`
    Priority             int    `json:"priority" yaml:"priority"`
    MaxRequestsPerMinute int    `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
    Burst                int    `json:"burst" yaml:"burst"`
    MinIntervalMS        int    `json:"min_interval_ms" yaml:"min_interval_ms"`
    CooldownSec          int    `json:"cooldown_sec" yaml:"cooldown_sec"`
    YieldScale           string `json:"yield_scale" yaml:"yield_scale"`
}

type Providers struct {
    TwelveData   Provider `json:"twelvedata" yaml:"twelvedata"`
    AlphaVantage Provider `json:"alphavantage" yaml:"alphavantage"`
    Brapi        Provider `json:"brapi" yaml:"brapi"`
    Yahoo        Provider `json:"yahoo" yaml:"yahoo"`
}

// Provider names as used in market lists and logs.
const (
    TwelveData   = "twelvedata"
    AlphaVantage = "alphavantage"
    Brapi        = "brapi"
    Yahoo        = "yahoo"
)

// NamedProvider pairs a provider section with its name.
type NamedProvider struct {
    Name string
    Provider
}

// All returns every provider section in declaration order.
func (p Providers) All() []NamedProvider {
    return []NamedProvider{
        {TwelveData, p.TwelveData},
        {AlphaVantage, p.AlphaVantage},
        {Brapi, p.Brapi},
        {Yahoo, p.Yahoo},
    }
}

// Get returns the section for name.
func (p Providers) Get(name string) (Provider, bool) {
    for _, np := range p.All() {
        if np.Name == name {
            return np.Provider, true
        }
    }
    return Provider{}, false
}

func (p *Providers) ref(name string) *Provider {
    switch name {
    case TwelveData:
        return &p.TwelveData
    case AlphaVantage:
        return &p.AlphaVantage
    case Brapi:
        return &p.Brapi
    case Yahoo:
        return &p.Yahoo
    }
    return nil
}

// Market lists the adapters tried for a market and how static data is
// combined with live data.
type Market struct {
    Providers          []string `json:"providers" yaml:"providers"`
    SectorPrecedence   string   `json:"sector_precedence" yaml:"sector_precedence"`
    DividendPrecedence string   `json:"dividend_precedence" yaml:"dividend_precedence"`
}

type Markets struct {
    US     Market `json:"us" yaml:"us"`
    Brazil Market `json:"brazil" yaml:"brazil"`
}

type StaticData struct {
    File string `json:"file" yaml:"file"`
}

type Scheduler struct {
    Enabled   bool     `json:"enabled" yaml:"enabled"`
    Spec      string   `json:"spec" yaml:"spec"`
    Watchlist []string `json:"watchlist" yaml:"watchlist"`
}

type Config struct {
    Server     Server     `json:"server" yaml:"server"`
    Log        Log        `json:"log" yaml:"log"`
    Cache      Cache      `json:"cache" yaml:"cache"`
    Fetch      Fetch      `json:"fetch" yaml:"fetch"`
    Providers  Providers  `json:"providers" yaml:"providers"`
    Markets    Markets    `json:"markets" yaml:"markets"`
    StaticData StaticData `json:"static_data" yaml:"static_data"`
    Scheduler  Scheduler  `json:"scheduler" yaml:"scheduler"`
}

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 15},
        Log:    Log{Level: "info", Format: "text"},
        Cache: Cache{
            TTLSec:          1800,
            MaxStalenessSec: 86400,
            Backend:         "file",
            File:            "data/quote_cache.json",
            RedisAddr:       "localhost:6379",
            RedisPrefix:     "quotecache:quote:",
            StoreTimeoutMS:  2000,
        },
        Fetch: Fetch{AdapterTimeoutSec: 10},
        Providers: Providers{
            TwelveData: Provider{
                Enabled:              true,
                Priority:             1,
                MaxRequestsPerMinute: 8,
                Burst:                8,
                MinIntervalMS:        1000,
                CooldownSec:          60,
            },
            AlphaVantage: Provider{
                Enabled:              true,
                Priority:             2,
                MaxRequestsPerMinute: 5,
                Burst:                1,
                MinIntervalMS:        2000,
                CooldownSec:          60,
            },
            Brapi: Provider{
                Enabled:       true,
                Priority:      3,
                MinIntervalMS: 500,
                CooldownSec:   60,
            },
            Yahoo: Provider{
                Enabled:       true,
                Priority:      4,
                MinIntervalMS: 500,
                CooldownSec:   60,
            },
        },
        Markets: Markets{
            US: Market{
                Providers:          []string{TwelveData, AlphaVantage, Yahoo},
                SectorPrecedence:   "live-first",
                DividendPrecedence: "live-first",
            },
            Brazil: Market{
                Providers:          []string{TwelveData, AlphaVantage, Brapi, Yahoo},
                SectorPrecedence:   "live-first",
                DividendPrecedence: "static-first",
            },
        },
        Scheduler: Scheduler{Enabled: false, Spec: "@every 5m"},
    }
}

// Load builds the configuration: defaults, then the file at path (YAML for
// .yaml/.yml, JSON otherwise), then a .env file, then the environment.
// An empty path falls back to config.json in the working directory.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := decode(path, b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
        return cfg, fmt.Errorf("load .env: %w", err)
    }
    applyEnv(&cfg)
    return cfg, cfg.Validate()
}

func decode(path string, b []byte, cfg *Config) error {
    switch strings.ToLower(filepath.Ext(path)) {
    case ".yaml", ".yml":
        return yaml.Unmarshal(b, cfg)
    default:
        return json.Unmarshal(b, cfg)
    }
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
    var errs []error
    if c.Cache.TTLSec < 0 {
        errs = append(errs, fmt.Errorf("cache.ttl_sec must not be negative"))
    }
    if c.Cache.MaxStalenessSec < 0 {
        errs = append(errs, fmt.Errorf("cache.max_staleness_sec must not be negative"))
    }
    switch c.Cache.Backend {
    case "file", "redis", "memory":
    default:
        errs = append(errs, fmt.Errorf("cache.backend %q: want file, redis or memory", c.Cache.Backend))
    }
    switch strings.ToLower(c.Log.Format) {
    case "", "text", "json":
    default:
        errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
    }
    for _, m := range []struct {
        name string
        cfg  Market
    }{{"us", c.Markets.US}, {"brazil", c.Markets.Brazil}} {
        for _, p := range m.cfg.Providers {
            if c.Providers.ref(p) == nil {
                errs = append(errs, fmt.Errorf("markets.%s: unknown provider %q", m.name, p))
            }
        }
        for _, prec := range []string{m.cfg.SectorPrecedence, m.cfg.DividendPrecedence} {
            switch prec {
            case "", "live-first", "static-first":
            default:
                errs = append(errs, fmt.Errorf("markets.%s: unknown precedence %q", m.name, prec))
            }
        }
    }
    return errors.Join(errs...)
}

func (c Cache) TTL() time.Duration          { return time.Duration(c.TTLSec) * time.Second }
func (c Cache) MaxStaleness() time.Duration { return time.Duration(c.MaxStalenessSec) * time.Second }
func (c Cache) StoreTimeout() time.Duration { return time.Duration(c.StoreTimeoutMS) * time.Millisecond }
func (f Fetch) AdapterTimeout() time.Duration {
    return time.Duration(f.AdapterTimeoutSec) * time.Second
}
func (s Server) RequestTimeout() time.Duration {
    return time.Duration(s.RequestTimeoutSec) * time.Second
}
func (p Provider) MinInterval() time.Duration { return time.Duration(p.MinIntervalMS) * time.Millisecond }
func (p Provider) Cooldown() time.Duration    { return time.Duration(p.CooldownSec) * time.Second }

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Server.RequestTimeoutSec = x }
    }
    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.Log.Level = v }
    if v := os.Getenv("LOG_FORMAT"); v != "" { cfg.Log.Format = v }

    if v := os.Getenv("CACHE_TTL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Cache.TTLSec = x }
    }
    if v := os.Getenv("CACHE_MAX_STALENESS_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Cache.MaxStalenessSec = x }
    }
    if v := os.Getenv("CACHE_BACKEND"); v != "" { cfg.Cache.Backend = strings.ToLower(v) }
    if v := os.Getenv("CACHE_FILE"); v != "" { cfg.Cache.File = v }
    if v := os.Getenv("REDIS_ADDR"); v != "" { cfg.Cache.RedisAddr = v }
    if v := os.Getenv("ADAPTER_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Fetch.AdapterTimeoutSec = x }
    }

    if v := os.Getenv("TWELVE_DATA_API_KEY"); v != "" { cfg.Providers.TwelveData.APIKey = v }
    if v := os.Getenv("ALPHA_VANTAGE_API_KEY"); v != "" { cfg.Providers.AlphaVantage.APIKey = v }
    if v := os.Getenv("BRAPI_API_KEY"); v != "" { cfg.Providers.Brapi.APIKey = v }

    for _, name := range []string{TwelveData, AlphaVantage, Brapi, Yahoo} {
        p := cfg.Providers.ref(name)
        prefix := strings.ToUpper(name)
        if v := os.Getenv(prefix + "_ENABLED"); v != "" {
            if b, ok := parseBool(v); ok { p.Enabled = b }
        }
        if v := os.Getenv(prefix + "_MAX_RPM"); v != "" {
            var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { p.MaxRequestsPerMinute = x }
        }
        if v := os.Getenv(prefix + "_BURST"); v != "" {
            var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { p.Burst = x }
        }
    }

    if v := os.Getenv("STATIC_DATA_FILE"); v != "" { cfg.StaticData.File = v }
    if v := os.Getenv("SCHEDULER_SPEC"); v != "" {
        cfg.Scheduler.Spec = v
        cfg.Scheduler.Enabled = true
    }
    if v := os.Getenv("WATCHLIST"); v != "" { cfg.Scheduler.Watchlist = splitCSV(v) }
}

func parseBool(v string) (bool, bool) {
    switch strings.ToLower(strings.TrimSpace(v)) {
    case "1", "true", "yes", "y":
        return true, true
    case "0", "false", "no", "n":
        return false, true
    }
    return false, false
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
