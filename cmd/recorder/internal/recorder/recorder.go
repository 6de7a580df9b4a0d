package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/pkg/config"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

const (
	keyPrefix     = "quote:"
	channelPrefix = "quotes."
)

// Recorder drains the engine's Kafka tick stream into Redis: the latest
// QuoteUpdate per symbol as a snapshot with a TTL, plus a pub/sub
// notification per tick. Work is sharded across workers by symbol so one
// symbol's updates are applied in order, and each worker dedupes on
// SeqID.
type Recorder struct {
	logger     *zap.Logger
	rdb        RedisClient
	reader     KafkaReader
	numWorkers int
	ttl        time.Duration
}

func New(cfg *config.Config, logger *zap.Logger, rdb RedisClient, reader KafkaReader) *Recorder {
	return &Recorder{
		logger:     logger,
		rdb:        rdb,
		reader:     reader,
		numWorkers: cfg.Recorder.NumWorkers,
		ttl:        time.Duration(cfg.Recorder.SnapshotTTLMin) * time.Minute,
	}
}

func (r *Recorder) Run(ctx context.Context) error {
	workerChans := make([]chan []byte, r.numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < r.numWorkers; i++ {
		workerChans[i] = make(chan []byte, 100) // Buffered for backpressure
		wg.Add(1)
		go r.worker(i, workerChans[i], &wg)
	}

	// The forwarder must be fully stopped before the worker channels
	// close, or it could send a just-read message into a closed channel.
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		r.logger.Info("Recorder Started", zap.Int("workers", r.numWorkers))
		for {
			m, err := r.reader.ReadMessage(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				r.logger.Error("Kafka Read Error", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}

			// Deterministic sharding: same symbol always lands on the
			// same worker, which is what makes per-worker dedupe sound
			workerID := shardFor(m.Key, r.numWorkers)

			select {
			case workerChans[workerID] <- m.Value:
			case <-ctx.Done():
				return
			default:
				// Full channel: drop. For live quotes "latest" beats "all".
				r.logger.Warn("Dropping slow packet", zap.String("key", string(m.Key)), zap.Int("worker_id", workerID))
			}
		}
	}()

	<-ctx.Done()
	r.logger.Info("Shutdown signal received, stopping recorder...")
	<-forwarderDone

	for _, ch := range workerChans {
		close(ch)
	}
	r.logger.Info("Waiting for workers to drain...")
	wg.Wait()

	return nil
}

func (r *Recorder) worker(id int, msgs <-chan []byte, wg *sync.WaitGroup) {
	defer wg.Done()
	// Background context so a shutdown doesn't abandon a half-done write
	ctx := context.Background()

	lastSeq := make(map[string]int64)

	for payload := range msgs {
		var update models.QuoteUpdate
		if err := json.Unmarshal(payload, &update); err != nil {
			r.logger.Error("JSON Unmarshal Error", zap.Error(err))
			continue
		}

		if update.SeqID <= lastSeq[update.Symbol] {
			r.logger.Debug("Skipping duplicate update", zap.String("symbol", update.Symbol), zap.Int64("seq_id", update.SeqID))
			continue
		}

		// Atomic SET + PUBLISH in one pipeline so subscribers never see
		// a notification ahead of its snapshot
		pipe := r.rdb.Pipeline()
		pipe.Set(ctx, keyPrefix+update.Symbol, payload, r.ttl)
		pipe.Publish(ctx, channelPrefix+update.Symbol, payload)

		if _, err := pipe.Exec(ctx); err != nil {
			r.logger.Error("Redis Pipeline Error", zap.Error(err), zap.String("symbol", update.Symbol))
			continue
		}

		lastSeq[update.Symbol] = update.SeqID
		r.logger.Debug("Recorded",
			zap.String("symbol", update.Symbol),
			zap.Float64("bid", update.Bid),
			zap.Float64("ask", update.Ask),
			zap.Int("worker_id", id),
			zap.Int64("seq_id", update.SeqID))
	}
}

func shardFor(key []byte, numWorkers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32()) % numWorkers
}
