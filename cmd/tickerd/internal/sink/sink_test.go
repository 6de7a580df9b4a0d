package sink_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/sink"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/testutils"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

func sampleUpdate() models.QuoteUpdate {
	return models.QuoteUpdate{
		Quote:     models.NewQuote("AAPL", 149.98, 100, 150.03, 99, 150),
		Timestamp: 1700000000000000,
		SeqID:     1,
	}
}

func TestRedisSink_WritesSnapshotWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := sink.NewRedis(rdb, zap.NewNop(), time.Hour)

	update := sampleUpdate()
	s.Emit(engine.EventTick, update)

	if !mr.Exists("quote:AAPL") {
		t.Fatal("Expected snapshot key quote:AAPL")
	}
	raw, err := mr.Get("quote:AAPL")
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	var stored models.QuoteUpdate
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}
	if stored != update {
		t.Errorf("Expected stored update %+v, got %+v", update, stored)
	}
	if mr.TTL("quote:AAPL") != time.Hour {
		t.Errorf("Expected 1h TTL, got %v", mr.TTL("quote:AAPL"))
	}
}

func TestRedisSink_IgnoresForeignPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := sink.NewRedis(rdb, zap.NewNop(), time.Hour)

	s.Emit(engine.EventTick, "not a quote update")

	if len(mr.Keys()) != 0 {
		t.Errorf("Unexpected keys written: %v", mr.Keys())
	}
}

func TestKafkaSink_WritesKeyedBySymbol(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	s := sink.NewKafka(writer, zap.NewNop())

	update := sampleUpdate()
	s.Emit(engine.EventTick, update)

	writer.Mu.Lock()
	defer writer.Mu.Unlock()
	if len(writer.Messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(writer.Messages))
	}
	if string(writer.Messages[0].Key) != "AAPL" {
		t.Errorf("Expected key AAPL, got %s", writer.Messages[0].Key)
	}
	var decoded models.QuoteUpdate
	if err := json.Unmarshal(writer.Messages[0].Value, &decoded); err != nil {
		t.Fatalf("Message is not valid JSON: %v", err)
	}
	if decoded != update {
		t.Errorf("Expected %+v, got %+v", update, decoded)
	}
}

func TestKafkaSink_SkipsErrorEvents(t *testing.T) {
	writer := &testutils.MockKafkaWriter{}
	s := sink.NewKafka(writer, zap.NewNop())

	s.Emit(engine.EventError, &engine.TickError{Symbol: "AAPL", Err: errors.New("boom")})

	writer.Mu.Lock()
	defer writer.Mu.Unlock()
	if len(writer.Messages) != 0 {
		t.Errorf("Error events must not reach Kafka, got %d messages", len(writer.Messages))
	}
}

func TestFanout_DeliversInOrderAndSupportsAdd(t *testing.T) {
	first := &testutils.MockSink{}
	second := &testutils.MockSink{}

	fan := sink.NewFanout(first)
	fan.Add(second)

	update := sampleUpdate()
	fan.Emit(engine.EventTick, update)

	for i, s := range []*testutils.MockSink{first, second} {
		if s.Count(engine.EventTick) != 1 {
			t.Errorf("Sink %d expected 1 tick, got %d", i, s.Count(engine.EventTick))
		}
	}
}
