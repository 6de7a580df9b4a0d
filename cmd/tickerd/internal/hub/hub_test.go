package hub_test

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/hub"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/protocol"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/testutils"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

func setup(badSymbols ...string) (*hub.Hub, *testutils.MockFeed) {
	feed := testutils.NewMockFeed(badSymbols...)
	return hub.NewHub(feed, zap.NewNop()), feed
}

func subscribeReq(id string, symbols ...string) protocol.WSRequest {
	return protocol.WSRequest{
		Action:  protocol.ActionSubscribe,
		Payload: protocol.RequestPayload{Symbols: symbols},
		ID:      id,
	}
}

func TestHub_Subscribe_Success(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("req-1", "AAPL"))

	if client.LastMsgType() != "ack" {
		t.Errorf("Expected ack, got %s", client.LastMsgType())
	}
	if feed.Refs("AAPL") != 1 {
		t.Errorf("Expected one upstream subscription for AAPL, got %d", feed.Refs("AAPL"))
	}

	// Snapshot is delivered async after the ack
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		client.Mu.Lock()
		n := len(client.Messages)
		client.Mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.Mu.Lock()
	defer client.Mu.Unlock()
	if len(client.Messages) < 2 || client.Messages[1].Type != "quote" {
		t.Fatalf("Expected initial quote snapshot after ack, got %+v", client.Messages)
	}
}

func TestHub_Subscribe_CanonicalizesSymbols(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("req-1", "  aapl "))

	if feed.Refs("AAPL") != 1 {
		t.Errorf("Expected canonical AAPL subscription, got %+v", feed.SubscribeCalls)
	}
}

func TestHub_Subscribe_MixedValidity(t *testing.T) {
	h, feed := setup("BOGUS")
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("req-2", "AAPL", "BOGUS"))

	client.Mu.Lock()
	last := client.Messages[len(client.Messages)-1]
	client.Mu.Unlock()
	if last.Status != "success" {
		t.Errorf("Expected success for partially valid subscription")
	}
	if !strings.Contains(last.Message, "AAPL") {
		t.Errorf("Response should name the accepted symbol, got %q", last.Message)
	}
	if feed.Refs("BOGUS") != 0 {
		t.Error("Rejected symbol must not hold an upstream reference")
	}
}

func TestHub_Subscribe_AllRejected(t *testing.T) {
	h, _ := setup("BOGUS")
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("req-3", "BOGUS"))

	if client.LastMsgType() != "error" {
		t.Errorf("Expected error when nothing was accepted, got %s", client.LastMsgType())
	}
}

func TestHub_Subscribe_Idempotency(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("", "AAPL"))
	h.HandleCommand(client, subscribeReq("", "AAPL"))

	// The engine must see one reference per (client, symbol) pair
	if feed.Refs("AAPL") != 1 {
		t.Errorf("Repeat subscribe from one client should hold a single reference, got %d", feed.Refs("AAPL"))
	}
}

func TestHub_TwoClients_TwoReferences(t *testing.T) {
	h, feed := setup()
	c1 := testutils.NewMockClient("c1")
	c2 := testutils.NewMockClient("c2")

	h.HandleCommand(c1, subscribeReq("", "AAPL"))
	h.HandleCommand(c2, subscribeReq("", "AAPL"))

	if feed.Refs("AAPL") != 2 {
		t.Errorf("Expected 2 upstream references, got %d", feed.Refs("AAPL"))
	}

	h.Unregister(c1)
	if feed.Refs("AAPL") != 1 {
		t.Errorf("Expected 1 reference after first client left, got %d", feed.Refs("AAPL"))
	}
}

func TestHub_Unsubscribe_Logic(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("", "AAPL", "TSLA"))
	h.HandleCommand(client, protocol.WSRequest{
		Action: protocol.ActionUnsubscribe, Payload: protocol.RequestPayload{Symbols: []string{"AAPL"}},
	})

	if feed.Refs("AAPL") != 0 {
		t.Errorf("Expected AAPL released, got %d", feed.Refs("AAPL"))
	}
	if feed.Refs("TSLA") != 1 {
		t.Errorf("Expected TSLA still held, got %d", feed.Refs("TSLA"))
	}
}

func TestHub_Unsubscribe_NotSubscribed(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, protocol.WSRequest{
		Action: protocol.ActionUnsubscribe, Payload: protocol.RequestPayload{Symbols: []string{"GOOG"}},
		ID: "err-check",
	})

	if client.LastMsgType() != "error" {
		t.Errorf("Expected error response for unsubscribing a non-watched symbol")
	}
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h, feed := setup()
	client := testutils.NewMockClient("c1")

	h.HandleCommand(client, subscribeReq("", "AAPL", "TSLA"))
	h.HandleCommand(client, protocol.WSRequest{Action: protocol.ActionUnsubscribeAll})

	feed.Mu.Lock()
	defer feed.Mu.Unlock()
	if len(feed.SubscribeCalls) != 0 {
		t.Errorf("Expected all references released, got %+v", feed.SubscribeCalls)
	}
}

func TestHub_Emit_RoutesTicksToSubscribers(t *testing.T) {
	h, _ := setup()
	subscribed := testutils.NewMockClient("c1")
	other := testutils.NewMockClient("c2")

	h.HandleCommand(subscribed, subscribeReq("", "AAPL"))
	h.HandleCommand(other, subscribeReq("", "TSLA"))

	update := models.QuoteUpdate{
		Quote: models.NewQuote("AAPL", 150.5, 10, 150.6, 9, 150.03),
		SeqID: 3,
	}
	h.Emit(engine.EventTick, update)

	subscribed.Mu.Lock()
	raw := append([]string(nil), subscribed.RawBytes...)
	subscribed.Mu.Unlock()
	if len(raw) != 1 {
		t.Fatalf("Expected 1 broadcast frame, got %d", len(raw))
	}
	var resp protocol.WSResponse
	if err := json.Unmarshal([]byte(raw[0]), &resp); err != nil {
		t.Fatalf("Broadcast frame is not valid JSON: %v", err)
	}
	if resp.Type != "quote" {
		t.Errorf("Expected quote frame, got %s", resp.Type)
	}

	other.Mu.Lock()
	defer other.Mu.Unlock()
	if len(other.RawBytes) != 0 {
		t.Error("Clients must not receive ticks for other symbols")
	}
}

func TestHub_Emit_RoutesErrorsToSubscribers(t *testing.T) {
	h, _ := setup()
	client := testutils.NewMockClient("c1")
	h.HandleCommand(client, subscribeReq("", "AAPL"))

	h.Emit(engine.EventError, &engine.TickError{Symbol: "AAPL", Err: errors.New("stale feed")})

	client.Mu.Lock()
	defer client.Mu.Unlock()
	if len(client.RawBytes) != 1 {
		t.Fatalf("Expected 1 error frame, got %d", len(client.RawBytes))
	}
	if !strings.Contains(client.RawBytes[0], "stale feed") {
		t.Errorf("Error frame should carry the cause, got %s", client.RawBytes[0])
	}
}

func TestHub_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	h, _ := setup()
	client := testutils.NewMockClient("c1")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.HandleCommand(client, subscribeReq("", "AAPL"))
	}()
	go func() {
		defer wg.Done()
		h.HandleCommand(client, protocol.WSRequest{
			Action: protocol.ActionUnsubscribe, Payload: protocol.RequestPayload{Symbols: []string{"AAPL"}},
		})
	}()
	go func() {
		defer wg.Done()
		h.Unregister(client)
	}()
	wg.Wait()
}
