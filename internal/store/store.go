package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quotecache/internal/quote"
)

// ErrInvalidRecord rejects records that would break the durable tier's
// guarantee that every stored quote is complete enough to serve.
var ErrInvalidRecord = errors.New("invalid record")

// Record is one durable cache entry.
type Record struct {
	Quote      quote.Quote `json:"quote"`
	InsertedAt time.Time   `json:"inserted_at"`
}

// Store is the durable tier behind the cache manager. Implementations hold
// at most one record per ticker; Put replaces.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Put(ctx context.Context, r Record) error
	Clear(ctx context.Context) error
}

// Validate reports whether r may be stored.
func Validate(r Record) error {
	if r.Quote.Ticker == "" {
		return fmt.Errorf("%w: empty ticker", ErrInvalidRecord)
	}
	if r.InsertedAt.IsZero() {
		return fmt.Errorf("%w: %s: inserted_at not set", ErrInvalidRecord, r.Quote.Ticker)
	}
	if err := r.Quote.Validate(nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRecord, r.Quote.Ticker, err)
	}
	return nil
}
