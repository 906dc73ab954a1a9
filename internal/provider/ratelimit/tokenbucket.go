package ratelimit

import (
    "time"
)

// tokenBucket is a non-blocking token bucket.
// - rate: tokens per second
// - capacity: maximum tokens the bucket can hold (burst)
// Callers hold the guard's lock; the bucket itself is not synchronized.
type tokenBucket struct {
    rate     float64
    capacity float64

    tokens float64
    last   time.Time
}

func newTokenBucket(tokensPerSecond float64, burst int, now time.Time) *tokenBucket {
    if tokensPerSecond <= 0 { tokensPerSecond = 0.0000001 }
    if burst <= 0 { burst = 1 }
    return &tokenBucket{
        rate:     tokensPerSecond,
        capacity: float64(burst),
        tokens:   float64(burst), // start full to allow an initial burst
        last:     now,
    }
}

func (tb *tokenBucket) refill(now time.Time) {
    elapsed := now.Sub(tb.last).Seconds()
    if elapsed > 0 {
        tb.tokens += elapsed * tb.rate
        if tb.tokens > tb.capacity {
            tb.tokens = tb.capacity
        }
        tb.last = now
    }
}

// available reports whether one token can be taken at now.
func (tb *tokenBucket) available(now time.Time) bool {
    tb.refill(now)
    return tb.tokens >= 1
}

// take removes one token; call only after available returned true.
func (tb *tokenBucket) take() { tb.tokens -= 1 }

// drain empties the bucket so no attempt is allowed until it refills.
func (tb *tokenBucket) drain(now time.Time) {
    tb.refill(now)
    tb.tokens = 0
}

// nextToken returns how long until one token is available.
func (tb *tokenBucket) nextToken() time.Duration {
    if tb.tokens >= 1 { return 0 }
    deficit := 1 - tb.tokens
    return time.Duration(deficit / tb.rate * float64(time.Second))
}
