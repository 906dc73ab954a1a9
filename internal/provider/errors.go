package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a provider failure.
type Kind int

const (
	KindUnreachable Kind = iota
	KindRateLimited
	KindNotFound
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate limited"
	case KindNotFound:
		return "not found"
	case KindTimeout:
		return "timeout"
	default:
		return "unreachable"
	}
}

// Sentinels usable with errors.Is against any *Error of the same kind.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrNotFound    = errors.New("not found")
	ErrTimeout     = errors.New("timeout")
	ErrUnreachable = errors.New("unreachable")
)

// Error is a transient, per-adapter failure.
type Error struct {
	Provider string
	Kind     Kind
	Err      error
}

func NewError(provider string, kind Kind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	}
	return false
}

// KindOf reports the kind of err. Errors that are not *Error are treated as
// unreachable unless they are context deadlines.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnreachable
}

// FromStatus maps a non-2xx HTTP status to a provider error.
func FromStatus(provider string, code int) *Error {
	err := fmt.Errorf("unexpected status code: %d", code)
	switch {
	case code == http.StatusTooManyRequests:
		return NewError(provider, KindRateLimited, err)
	case code == http.StatusNotFound:
		return NewError(provider, KindNotFound, err)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return NewError(provider, KindTimeout, err)
	default:
		return NewError(provider, KindUnreachable, err)
	}
}

// FromTransport maps an error from performing a request.
func FromTransport(provider string, err error) *Error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return NewError(provider, KindTimeout, err)
	}
	return NewError(provider, KindUnreachable, err)
}
