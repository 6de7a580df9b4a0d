package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

const (
	keyPrefix     = "quote:"
	channelPrefix = "quotes."
	errorChannel  = "quotes.errors"
)

// RedisClient abstracts the output storage connection
type RedisClient interface {
	Pipeline() redis.Pipeliner
}

// Redis mirrors each tick into Redis: the latest snapshot under
// quote:<SYM> with a TTL, plus a pub/sub notification on quotes.<SYM>.
// SET and PUBLISH travel in one pipeline so subscribers never observe a
// notification ahead of its snapshot. Tick errors go to a shared error
// channel.
type Redis struct {
	rdb    RedisClient
	logger *zap.Logger
	ttl    time.Duration
}

func NewRedis(rdb RedisClient, logger *zap.Logger, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, logger: logger, ttl: ttl}
}

func (r *Redis) Emit(name string, payload interface{}) {
	ctx := context.Background()

	switch name {
	case engine.EventTick:
		update, ok := payload.(models.QuoteUpdate)
		if !ok {
			return
		}
		body, err := json.Marshal(update)
		if err != nil {
			r.logger.Error("JSON Marshal Error", zap.Error(err))
			return
		}

		pipe := r.rdb.Pipeline()
		pipe.Set(ctx, keyPrefix+update.Symbol, body, r.ttl) // TTL prevents unbounded memory growth
		pipe.Publish(ctx, channelPrefix+update.Symbol, body)
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", update.Symbol))
		}

	case engine.EventError:
		err, ok := payload.(error)
		if !ok {
			return
		}
		pipe := r.rdb.Pipeline()
		pipe.Publish(ctx, errorChannel, err.Error())
		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Error("Redis Pipeline Error", zap.Error(err))
		}
	}
}
