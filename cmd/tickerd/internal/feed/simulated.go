package feed

import (
	"errors"
	"fmt"
	"math"

	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// ErrInvalidQuote means the generator was handed a missing or invalid
// quote to walk from.
var ErrInvalidQuote = errors.New("invalid quote")

// SimulatedPolicy produces quote updates as a pseudo-random walk off the
// previous quote. It exists as a named policy so the "never re-query the
// upstream after the first fetch" behavior is an explicit choice: plug a
// real feed into the engine's TickPolicy seat and this simulator is out
// of the loop entirely.
type SimulatedPolicy struct {
	rnd Rand
}

func NewSimulatedPolicy(rnd Rand) *SimulatedPolicy {
	return &SimulatedPolicy{rnd: rnd}
}

// Next walks the quote one step: a 50/50 direction, a magnitude in
// [0,1), and a fresh size in [1,100]. Upticks trade at the old ask,
// downticks at the old bid. Prices are rounded to cents.
func (p *SimulatedPolicy) Next(q models.Quote) (models.Quote, error) {
	if !q.Valid {
		return models.Quote{}, fmt.Errorf("%w: %q", ErrInvalidQuote, q.Symbol)
	}

	point := p.rnd.Float64()
	size := 1 + p.rnd.Intn(100)
	up := p.rnd.Intn(2) == 0

	next := q
	if up {
		next.Bid = round2(q.Bid + point)
		next.Ask = round2(q.Ask + point + 0.05)
		next.Last = q.Ask
	} else {
		next.Bid = round2(q.Bid - point)
		next.Ask = round2(q.Ask - point + 0.05)
		next.Last = q.Bid
	}
	next.BidSize = size
	next.AskSize = size - 1

	return next, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
