package ratelimit

import (
    "sync"
    "time"

    log "github.com/sirupsen/logrus"
)

// DefaultCooldown is how long an adapter is skipped after it reports that
// its quota is exhausted, when its Quota does not set one.
const DefaultCooldown = time.Minute

// Quota describes an adapter's call budget.
// - RequestsPerMinute/Burst: token bucket; 0 RPM disables the bucket
// - MinInterval: pacing between call starts; callers wait for a slot
// - Cooldown: skip window opened by a rate-limited outcome
type Quota struct {
    RequestsPerMinute int
    Burst             int
    MinInterval       time.Duration
    Cooldown          time.Duration
}

// Outcome is the result of an attempt as seen by the guard.
type Outcome int

const (
    OutcomeSuccess Outcome = iota
    OutcomeFailure
    OutcomeRateLimited
)

// Status is a point-in-time view of an adapter's budget.
type Status struct {
    Provider      string    `json:"provider"`
    Available     bool      `json:"available"`
    Tokens        float64   `json:"tokens"`
    LastAttempt   time.Time `json:"last_attempt,omitempty"`
    CooldownUntil time.Time `json:"cooldown_until,omitempty"`
    NextSlot      time.Time `json:"next_slot,omitempty"`
    RateLimited   int       `json:"rate_limited"`
}

type limiter struct {
    quota         Quota
    bucket        *tokenBucket
    lastAttempt   time.Time
    nextSlot      time.Time
    cooldownUntil time.Time
    rateLimited   int
}

// Guard tracks per-adapter quotas so the orchestrator can skip adapters
// whose budget is exhausted without spending a network call. Budgets are
// time based: a skip never changes an adapter's priority.
type Guard struct {
    mu       sync.Mutex
    limiters map[string]*limiter
    now      func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
    return func(g *Guard) { g.now = now }
}

func NewGuard(opts ...Option) *Guard {
    g := &Guard{limiters: map[string]*limiter{}, now: time.Now}
    for _, opt := range opts {
        opt(g)
    }
    return g
}

// Register declares name's quota. Registering again replaces the quota and
// resets the budget.
func (g *Guard) Register(name string, q Quota) {
    if q.Cooldown <= 0 { q.Cooldown = DefaultCooldown }
    g.mu.Lock()
    defer g.mu.Unlock()
    l := &limiter{quota: q}
    if q.RequestsPerMinute > 0 {
        l.bucket = newTokenBucket(float64(q.RequestsPerMinute)/60.0, q.Burst, g.now())
    }
    g.limiters[name] = l
}

// CanAttempt reports whether name has budget left. A true answer reserves
// one token, so concurrent callers cannot both spend the last one.
// Unregistered adapters are always allowed. Pacing is not checked here;
// see Pace.
func (g *Guard) CanAttempt(name string) bool {
    g.mu.Lock()
    defer g.mu.Unlock()
    l, ok := g.limiters[name]
    if !ok {
        return true
    }
    now := g.now()
    if now.Before(l.cooldownUntil) {
        return false
    }
    if l.bucket != nil {
        if !l.bucket.available(now) {
            return false
        }
        l.bucket.take()
    }
    return true
}

// Pace claims the next MinInterval slot for name and returns how long the
// caller has to wait before calling. Slots are handed out in order, so
// concurrent callers are spaced rather than refused. When the wait would
// exceed maxWait nothing is claimed and ok is false.
func (g *Guard) Pace(name string, maxWait time.Duration) (wait time.Duration, ok bool) {
    g.mu.Lock()
    defer g.mu.Unlock()
    l, found := g.limiters[name]
    if !found || l.quota.MinInterval <= 0 {
        return 0, true
    }
    now := g.now()
    slot := now
    if l.nextSlot.After(now) {
        slot = l.nextSlot
    }
    wait = slot.Sub(now)
    if wait > maxWait {
        return wait, false
    }
    l.nextSlot = slot.Add(l.quota.MinInterval)
    return wait, true
}

// RecordAttempt feeds back the outcome of an attempt started after
// CanAttempt returned true.
func (g *Guard) RecordAttempt(name string, outcome Outcome) {
    g.mu.Lock()
    defer g.mu.Unlock()
    l, ok := g.limiters[name]
    if !ok {
        return
    }
    now := g.now()
    l.lastAttempt = now
    if outcome != OutcomeRateLimited {
        return
    }
    l.rateLimited++
    l.cooldownUntil = now.Add(l.quota.Cooldown)
    if l.bucket != nil {
        l.bucket.drain(now)
    }
    log.WithFields(log.Fields{"provider": name, "until": l.cooldownUntil}).Warn("provider quota exhausted, cooling down")
}

// Status returns the budget view for name; ok is false when unregistered.
func (g *Guard) Status(name string) (Status, bool) {
    g.mu.Lock()
    defer g.mu.Unlock()
    l, ok := g.limiters[name]
    if !ok {
        return Status{}, false
    }
    now := g.now()
    st := Status{
        Provider:      name,
        LastAttempt:   l.lastAttempt,
        CooldownUntil: l.cooldownUntil,
        NextSlot:      l.nextSlot,
        RateLimited:   l.rateLimited,
        Available:     !now.Before(l.cooldownUntil),
        Tokens:        -1,
    }
    if l.bucket != nil {
        st.Available = st.Available && l.bucket.available(now)
        st.Tokens = l.bucket.tokens
    }
    return st, true
}

// RetryAfter estimates how long until CanAttempt answers true for name.
func (g *Guard) RetryAfter(name string) time.Duration {
    g.mu.Lock()
    defer g.mu.Unlock()
    l, ok := g.limiters[name]
    if !ok {
        return 0
    }
    now := g.now()
    var wait time.Duration
    if d := l.cooldownUntil.Sub(now); d > wait {
        wait = d
    }
    if l.bucket != nil {
        l.bucket.refill(now)
        if d := l.bucket.nextToken(); d > wait {
            wait = d
        }
    }
    return wait
}
