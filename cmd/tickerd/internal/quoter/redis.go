package quoter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

const keyPrefix = "quote:"

// Redis resolves initial quotes from the snapshots the recorder service
// maintains. A missing key means the symbol is unknown; transport errors
// bubble up so the engine can report the upstream as unavailable.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	sym := engine.Canonical(symbol)

	payload, err := r.client.Get(ctx, keyPrefix+sym).Result()
	if errors.Is(err, redis.Nil) {
		return models.Quote{}, fmt.Errorf("%w: %q", engine.ErrUnknownSymbol, symbol)
	}
	if err != nil {
		return models.Quote{}, err
	}

	var update models.QuoteUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		return models.Quote{}, fmt.Errorf("corrupt snapshot for %s: %v", sym, err)
	}
	return update.Quote, nil
}
