package sink

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// KafkaWriter abstracts the output stream
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka streams tick updates to the tick topic for downstream consumers
// (the recorder, analytics). Keyed by symbol so one symbol's updates
// stay ordered within a partition. Error events are not forwarded; they
// only matter to live listeners.
type Kafka struct {
	writer KafkaWriter
	logger *zap.Logger
}

func NewKafka(writer KafkaWriter, logger *zap.Logger) *Kafka {
	return &Kafka{writer: writer, logger: logger}
}

func (k *Kafka) Emit(name string, payload interface{}) {
	if name != engine.EventTick {
		return
	}
	update, ok := payload.(models.QuoteUpdate)
	if !ok {
		return
	}

	body, err := json.Marshal(update)
	if err != nil {
		k.logger.Error("JSON Marshal Error", zap.Error(err))
		return
	}

	err = k.writer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(update.Symbol), // Key ensures partition ordering
		Value: body,
	})
	if err != nil {
		k.logger.Error("Kafka Write Error", zap.Error(err), zap.String("symbol", update.Symbol))
	}
}
