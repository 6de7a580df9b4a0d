package sink

import (
	"sync"

	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// Sink mirrors the engine's EventSink: fire-and-forget delivery of tick
// and error broadcasts.
type Sink interface {
	Emit(name string, payload interface{})
}

// Fanout delivers every event to each registered sink in order. Sinks
// may be added after construction but before the engine starts emitting,
// which breaks the engine↔hub construction cycle in main.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, s)
}

func (f *Fanout) Emit(name string, payload interface{}) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		s.Emit(name, payload)
	}
}

// Log writes events to the process logger: ticks at debug to keep
// production logs quiet, errors at warn.
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Emit(name string, payload interface{}) {
	switch name {
	case engine.EventTick:
		if update, ok := payload.(models.QuoteUpdate); ok {
			l.logger.Debug("Tick",
				zap.String("symbol", update.Symbol),
				zap.Float64("bid", update.Bid),
				zap.Float64("ask", update.Ask),
				zap.Int64("seq_id", update.SeqID))
		}
	case engine.EventError:
		if err, ok := payload.(error); ok {
			l.logger.Warn("Tick error", zap.Error(err))
		}
	}
}
