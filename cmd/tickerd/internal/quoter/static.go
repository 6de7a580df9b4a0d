package quoter

import (
	"context"
	"fmt"
	"math"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// Static resolves quotes from an in-memory seed table. It is the
// development quoter: each configured symbol gets a synthetic bid/ask
// spread around its base price.
type Static struct {
	quotes map[string]models.Quote
}

func NewStatic(basePrices map[string]float64) *Static {
	quotes := make(map[string]models.Quote, len(basePrices))
	for sym, px := range basePrices {
		sym = engine.Canonical(sym)
		quotes[sym] = models.NewQuote(sym, round2(px-0.02), 100, round2(px+0.03), 99, px)
	}
	return &Static{quotes: quotes}
}

func (s *Static) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	q, ok := s.quotes[engine.Canonical(symbol)]
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %q", engine.ErrUnknownSymbol, symbol)
	}
	return q, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
