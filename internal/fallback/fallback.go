package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"quotecache/internal/market"
	"quotecache/internal/provider"
	"quotecache/internal/provider/ratelimit"
	"quotecache/internal/quote"
)

// DefaultAdapterTimeout bounds a single adapter call.
const DefaultAdapterTimeout = 10 * time.Second

// ErrNoProviderAvailable is returned when every adapter in the priority
// list was skipped or failed.
var ErrNoProviderAvailable = errors.New("no provider available")

// Attempt records what happened to one adapter during a resolve.
type Attempt struct {
	Provider string
	Skipped  bool
	Err      error
}

// FailureError carries the per-adapter attempts of an exhausted resolve.
type FailureError struct {
	Ticker   string
	Attempts []Attempt
}

func (e *FailureError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		switch {
		case a.Skipped:
			parts = append(parts, a.Provider+": skipped")
		default:
			parts = append(parts, a.Err.Error())
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: %v: no adapters configured", e.Ticker, ErrNoProviderAvailable)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Ticker, ErrNoProviderAvailable, strings.Join(parts, "; "))
}

func (e *FailureError) Is(target error) bool { return target == ErrNoProviderAvailable }

// Guard is the subset of the rate guard the orchestrator consults.
type Guard interface {
	CanAttempt(name string) bool
	RecordAttempt(name string, outcome ratelimit.Outcome)
}

// Pacer is implemented by guards that space out calls to an adapter. The
// orchestrator waits for the returned slot, bounded by the adapter timeout.
type Pacer interface {
	Pace(name string, maxWait time.Duration) (time.Duration, bool)
}

type Normalizer interface {
	Normalize(providerID, ticker string, raw provider.RawFields) (quote.Quote, error)
}

type Enricher interface {
	Apply(q quote.Quote, m market.Market) quote.Quote
}

// Orchestrator walks a market's priority list until one adapter yields a
// quote. Concurrent resolves of the same ticker share one walk.
type Orchestrator struct {
	lists      map[market.Market][]provider.Registration
	guard      Guard
	normalizer Normalizer
	enricher   Enricher
	timeout    time.Duration
	logger     log.FieldLogger
	group      singleflight.Group
}

type Option func(*Orchestrator)

func WithAdapterTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l log.FieldLogger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// New builds an Orchestrator. Each market's list is sorted by priority
// once here and never changes afterwards. enricher may be nil.
func New(lists map[market.Market][]provider.Registration, guard Guard, normalizer Normalizer, enricher Enricher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		lists:      make(map[market.Market][]provider.Registration, len(lists)),
		guard:      guard,
		normalizer: normalizer,
		enricher:   enricher,
		timeout:    DefaultAdapterTimeout,
		logger:     log.StandardLogger(),
	}
	for m, regs := range lists {
		o.lists[m] = provider.SortByPriority(regs)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers lists the adapter names tried for m, in priority order.
func (o *Orchestrator) Providers(m market.Market) []string {
	return provider.Names(o.lists[m])
}

// AllProviders lists every configured adapter name once.
func (o *Orchestrator) AllProviders() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range market.All {
		for _, name := range o.Providers(m) {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Resolve returns a fresh quote for ticker in market m. The walk runs on a
// context detached from ctx, so a caller giving up returns ctx.Err() while
// the shared walk carries on for the other waiters.
func (o *Orchestrator) Resolve(ctx context.Context, ticker string, m market.Market) (quote.Quote, error) {
	key := market.Qualify(ticker, m)
	detached := context.WithoutCancel(ctx)
	ch := o.group.DoChan(key, func() (any, error) {
		return o.resolve(detached, key, m)
	})
	select {
	case <-ctx.Done():
		return quote.Quote{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return quote.Quote{}, res.Err
		}
		return res.Val.(quote.Quote).Clone(), nil
	}
}

func (o *Orchestrator) resolve(ctx context.Context, ticker string, m market.Market) (quote.Quote, error) {
	logger := o.logger.WithFields(log.Fields{
		"ticker":     ticker,
		"market":     m,
		"refresh_id": uuid.NewString(),
	})

	regs := o.lists[m]
	attempts := make([]Attempt, 0, len(regs))
	for _, reg := range regs {
		name := reg.Adapter.Name()
		if o.guard != nil && !o.guard.CanAttempt(name) {
			logger.WithField("provider", name).Debug("rate guard: skipping adapter")
			attempts = append(attempts, Attempt{Provider: name, Skipped: true})
			continue
		}
		if !o.pace(ctx, logger.WithField("provider", name), name) {
			attempts = append(attempts, Attempt{Provider: name, Skipped: true})
			continue
		}

		raw, err := o.fetch(ctx, reg.Adapter, ticker)
		if err != nil {
			o.record(name, outcomeOf(err))
			logger.WithField("provider", name).WithError(err).Warn("adapter attempt failed")
			attempts = append(attempts, Attempt{Provider: name, Err: err})
			continue
		}
		o.record(name, ratelimit.OutcomeSuccess)

		q, err := o.normalizer.Normalize(name, ticker, raw)
		if err != nil {
			logger.WithField("provider", name).WithError(err).Warn("payload carried no usable attribute")
		}
		if o.enricher != nil {
			q = o.enricher.Apply(q, m)
		}
		logger.WithField("provider", name).Debug("resolved quote")
		return q, nil
	}

	return quote.Quote{}, &FailureError{Ticker: ticker, Attempts: attempts}
}

// pace waits for name's next call slot. It reports false when the slot is
// further away than the adapter timeout or ctx ends first.
func (o *Orchestrator) pace(ctx context.Context, logger log.FieldLogger, name string) bool {
	p, ok := o.guard.(Pacer)
	if !ok {
		return true
	}
	wait, ok := p.Pace(name, o.timeout)
	if !ok {
		logger.WithField("wait", wait.String()).Debug("rate guard: next slot too far, skipping adapter")
		return false
	}
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// fetch calls the adapter under the per-adapter timeout. An adapter that
// ignores its context is abandoned once the timeout fires.
func (o *Orchestrator) fetch(ctx context.Context, a provider.Adapter, ticker string) (provider.RawFields, error) {
	actx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	type result struct {
		raw provider.RawFields
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := a.Fetch(actx, ticker)
		ch <- result{raw, err}
	}()

	select {
	case <-actx.Done():
		return nil, provider.NewError(a.Name(), provider.KindTimeout, fmt.Errorf("no answer within %s", o.timeout))
	case r := <-ch:
		if r.err != nil {
			var pe *provider.Error
			if !errors.As(r.err, &pe) {
				return nil, provider.NewError(a.Name(), provider.KindOf(r.err), r.err)
			}
			return nil, r.err
		}
		return r.raw, nil
	}
}

func (o *Orchestrator) record(name string, outcome ratelimit.Outcome) {
	if o.guard != nil {
		o.guard.RecordAttempt(name, outcome)
	}
}

func outcomeOf(err error) ratelimit.Outcome {
	if errors.Is(err, provider.ErrRateLimited) {
		return ratelimit.OutcomeRateLimited
	}
	return ratelimit.OutcomeFailure
}
