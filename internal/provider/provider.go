package provider

import (
	"context"
	"sort"

	"quotecache/internal/provider/ratelimit"
)

// RawFields is a provider payload flattened to one level. Keys and units
// are provider-specific; the normalizer maps them to the canonical Quote.
type RawFields map[string]any

// Adapter is the contract every data source implements. Fetch takes a
// market-qualified ticker and returns the raw fields or an *Error.
//
//go:generate mockgen -package=providermock -destination=providermock/mock_provider.go -source=provider.go Adapter
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, ticker string) (RawFields, error)
}

// Registration declares an adapter's static priority rank (lower is tried
// first) and its quota for the rate guard.
type Registration struct {
	Adapter  Adapter
	Priority int
	Quota    ratelimit.Quota
}

// SortByPriority orders registrations by rank, keeping declaration order
// for equal ranks.
func SortByPriority(regs []Registration) []Registration {
	out := make([]Registration, len(regs))
	copy(out, regs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Names returns the adapter names in registration order.
func Names(regs []Registration) []string {
	out := make([]string, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.Adapter.Name())
	}
	return out
}
