package main

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "strings"
    "sync"
    "time"

    "github.com/gorilla/mux"
    log "github.com/sirupsen/logrus"
    "golang.org/x/sync/errgroup"

    "quotecache/internal/cache"
    "quotecache/internal/market"
    "quotecache/internal/provider/ratelimit"
)

const maxBatch = 100

// quoteService is the part of the cache manager the API exposes.
type quoteService interface {
    GetQuote(ctx context.Context, ticker string, m market.Market) (cache.Result, error)
    ForceRefresh(ctx context.Context, ticker string) (cache.Result, error)
    ClearCache(ctx context.Context) error
    Snapshot() []cache.EntryInfo
}

type server struct {
    svc       quoteService
    providers func() []ratelimit.Status
    timeout   time.Duration
}

func (s *server) routes() *mux.Router {
    r := mux.NewRouter()
    r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
    api := r.PathPrefix("/api").Subrouter()
    api.HandleFunc("/quotes", s.handleBatch).Methods(http.MethodGet)
    api.HandleFunc("/quotes/{ticker}", s.handleQuote).Methods(http.MethodGet)
    api.HandleFunc("/quotes/{ticker}/refresh", s.handleRefresh).Methods(http.MethodPost)
    api.HandleFunc("/cache", s.handleSnapshot).Methods(http.MethodGet)
    api.HandleFunc("/cache", s.handleClear).Methods(http.MethodDelete)
    api.HandleFunc("/providers", s.handleProviders).Methods(http.MethodGet)
    return r
}

type quoteItem struct {
    Ticker string `json:"ticker"`
    cache.Result
}

type batchResponse struct {
    Quotes []quoteItem        `json:"quotes"`
    Errors map[string]string `json:"errors,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
    m, err := market.Parse(r.URL.Query().Get("market"))
    if err != nil { writeError(w, http.StatusBadRequest, err); return }

    ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
    defer cancel()
    res, err := s.svc.GetQuote(ctx, mux.Vars(r)["ticker"], m)
    if err != nil { writeError(w, statusFor(err), err); return }
    writeJSON(w, http.StatusOK, res)
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
    symbols := splitCSV(r.URL.Query().Get("symbols"))
    if len(symbols) == 0 {
        writeError(w, http.StatusBadRequest, errors.New("missing symbols query param"))
        return
    }
    if len(symbols) > maxBatch {
        writeError(w, http.StatusBadRequest, errors.New("too many symbols (max 100)"))
        return
    }
    m, err := market.Parse(r.URL.Query().Get("market"))
    if err != nil { writeError(w, http.StatusBadRequest, err); return }

    ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
    defer cancel()

    // fan out; collect partial results
    items := make([]*quoteItem, len(symbols))
    var mu sync.Mutex
    errs := map[string]string{}
    var g errgroup.Group
    g.SetLimit(8)
    for i, sym := range symbols {
        g.Go(func() error {
            res, err := s.svc.GetQuote(ctx, sym, m)
            if err != nil {
                mu.Lock()
                errs[sym] = err.Error()
                mu.Unlock()
                return nil
            }
            items[i] = &quoteItem{Ticker: res.Quote.Ticker, Result: res}
            return nil
        })
    }
    _ = g.Wait()

    resp := batchResponse{Quotes: make([]quoteItem, 0, len(symbols))}
    for _, it := range items {
        if it != nil { resp.Quotes = append(resp.Quotes, *it) }
    }
    if len(errs) > 0 { resp.Errors = errs }
    if len(resp.Quotes) == 0 {
        writeJSON(w, http.StatusBadGateway, resp)
        return
    }
    writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
    defer cancel()
    res, err := s.svc.ForceRefresh(ctx, mux.Vars(r)["ticker"])
    if err != nil { writeError(w, statusFor(err), err); return }
    writeJSON(w, http.StatusOK, res)
}

func (s *server) handleClear(w http.ResponseWriter, r *http.Request) {
    if err := s.svc.ClearCache(r.Context()); err != nil {
        writeError(w, http.StatusInternalServerError, err)
        return
    }
    w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"entries": s.svc.Snapshot()})
}

func (s *server) handleProviders(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"providers": s.providers()})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
    switch {
    case errors.Is(err, cache.ErrEmptyTicker):
        return http.StatusBadRequest
    case errors.Is(err, context.DeadlineExceeded):
        return http.StatusGatewayTimeout
    case errors.Is(err, context.Canceled):
        return 499
    default:
        // no data, or a refresh that found no provider
        return http.StatusBadGateway
    }
}

func writeJSON(w http.ResponseWriter, status int, v any) {
    w.WriteHeader(status)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(v); err != nil {
        log.WithError(err).Debug("write response")
    }
}

func writeError(w http.ResponseWriter, status int, err error) {
    writeJSON(w, status, map[string]string{"error": err.Error()})
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
