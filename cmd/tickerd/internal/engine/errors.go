package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingQuoter is returned when an engine is constructed without
	// an upstream quoter.
	ErrMissingQuoter = errors.New("engine requires an external quoter")

	// ErrMissingPolicy is returned when an engine is constructed without
	// a tick policy.
	ErrMissingPolicy = errors.New("engine requires a tick policy")

	// ErrInvalidSymbol means the quoter did not recognize the symbol.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrUpstreamUnavailable means the quoter itself failed; the symbol
	// may or may not exist. Distinct from ErrInvalidSymbol so callers can
	// tell a bad symbol from a dead upstream.
	ErrUpstreamUnavailable = errors.New("upstream quoter unavailable")

	// ErrInvalidSubscriptionSeed means a subscription was seeded with an
	// invalid quote.
	ErrInvalidSubscriptionSeed = errors.New("invalid subscription seed quote")

	// ErrUnknownSymbol is the quoter-side contract: quoters return it
	// (wrapped or bare) when a symbol does not resolve, and the engine
	// maps it to ErrInvalidSymbol. Any other quoter error is treated as
	// ErrUpstreamUnavailable.
	ErrUnknownSymbol = errors.New("unknown symbol")
)

// TickError tags a tick-time update failure with the symbol it belongs
// to, so sinks can route it. Tick errors are broadcast, never returned
// to a caller.
type TickError struct {
	Symbol string
	Err    error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick update for %s: %v", e.Symbol, e.Err)
}

func (e *TickError) Unwrap() error { return e.Err }
