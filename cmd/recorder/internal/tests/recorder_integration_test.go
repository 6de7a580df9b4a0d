package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/recorder/internal/recorder"
	"github.com/athiwatp/ticker-tapi/cmd/recorder/internal/testutils"
	"github.com/athiwatp/ticker-tapi/pkg/config"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

func tickMessage(t *testing.T, symbol string, bid float64, seq int64) kafka.Message {
	t.Helper()
	update := models.QuoteUpdate{
		Quote:     models.NewQuote(symbol, bid, 100, bid+0.05, 99, bid),
		Timestamp: time.Now().UnixMicro(),
		SeqID:     seq,
	}
	val, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("Failed to marshal update: %v", err)
	}
	return kafka.Message{Key: []byte(symbol), Value: val}
}

func runRecorder(t *testing.T, mr *miniredis.Miniredis, msgs []kafka.Message) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	// Mock reader: spinning up real Kafka is too heavy for unit tests
	mockReader := &testutils.MockKafkaReader{Messages: msgs}

	cfg := &config.Config{}
	cfg.Recorder.NumWorkers = 1
	cfg.Recorder.SnapshotTTLMin = 60

	rec := recorder.New(cfg, zap.NewNop(), rdb, mockReader)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	// Poll until the snapshot lands (the recorder is async)
	deadline := time.Now().Add(time.Second)
	for !mr.Exists("quote:GOOG") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestRecorder_EndToEnd_Flow(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	runRecorder(t, mr, []kafka.Message{
		tickMessage(t, "GOOG", 1500.50, 1),
	})

	if !mr.Exists("quote:GOOG") {
		t.Fatal("Expected snapshot key quote:GOOG")
	}
	raw, err := mr.Get("quote:GOOG")
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	var stored models.QuoteUpdate
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}
	if stored.Symbol != "GOOG" || stored.Bid != 1500.50 {
		t.Errorf("Unexpected snapshot %+v", stored)
	}
	if mr.TTL("quote:GOOG") != time.Hour {
		t.Errorf("Expected 1h TTL from config, got %v", mr.TTL("quote:GOOG"))
	}
}

func TestRecorder_DeduplicatesBySeqID(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	runRecorder(t, mr, []kafka.Message{
		tickMessage(t, "GOOG", 1500.50, 5),
		tickMessage(t, "GOOG", 1400.00, 5), // redelivery, must be skipped
		tickMessage(t, "GOOG", 1501.25, 6),
	})

	raw, err := mr.Get("quote:GOOG")
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	var stored models.QuoteUpdate
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}
	if stored.SeqID != 6 || stored.Bid != 1501.25 {
		t.Errorf("Expected the seq-6 update to win, got %+v", stored)
	}
}

func TestRecorder_SkipsMalformedPayloads(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()

	runRecorder(t, mr, []kafka.Message{
		{Key: []byte("GOOG"), Value: []byte("{not json")},
		tickMessage(t, "GOOG", 1500.50, 1),
	})

	raw, err := mr.Get("quote:GOOG")
	if err != nil {
		t.Fatalf("Failed to read snapshot: %v", err)
	}
	var stored models.QuoteUpdate
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("Snapshot is not valid JSON: %v", err)
	}
	if stored.SeqID != 1 {
		t.Errorf("Malformed payload should be skipped, got %+v", stored)
	}
}

func TestRecorder_ShutdownWhileStreaming(t *testing.T) {
	// Run with `go test -race ./...`
	mr := miniredis.RunT(t)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	feed := make(chan kafka.Message, 256)
	for i := 0; i < 256; i++ {
		feed <- tickMessage(t, "GOOG", 1500.00+float64(i), int64(i+1))
	}
	reader := &testutils.StreamKafkaReader{Feed: feed}

	cfg := &config.Config{}
	cfg.Recorder.NumWorkers = 2
	cfg.Recorder.SnapshotTTLMin = 60

	rec := recorder.New(cfg, zap.NewNop(), rdb, reader)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	// Cancel while the forwarder still has messages in flight
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on shutdown: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recorder did not shut down")
	}
}
