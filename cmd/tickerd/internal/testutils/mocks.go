package testutils

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/protocol"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores decoded JSON messages
	RawBytes []string              // Stores raw bytes
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.RawBytes = append(m.RawBytes, string(b))
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// MockQuoter simulates the upstream quote provider
type MockQuoter struct {
	Quotes map[string]models.Quote
	// FailWith, when set, makes every lookup fail with this error
	// (simulates an upstream outage rather than a bad symbol)
	FailWith error
	Calls    int
	Mu       sync.Mutex
}

func NewMockQuoter(quotes ...models.Quote) *MockQuoter {
	m := &MockQuoter{Quotes: make(map[string]models.Quote)}
	for _, q := range quotes {
		m.Quotes[q.Symbol] = q
	}
	return m
}

func (m *MockQuoter) GetQuote(ctx context.Context, symbol string) (models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++

	if m.FailWith != nil {
		return models.Quote{}, m.FailWith
	}
	q, ok := m.Quotes[symbol]
	if !ok {
		return models.Quote{}, fmt.Errorf("%w: %q", engine.ErrUnknownSymbol, symbol)
	}
	return q, nil
}

// MockSink records every emitted event
type MockSink struct {
	Events []SinkEvent
	Mu     sync.Mutex
}

type SinkEvent struct {
	Name    string
	Payload interface{}
}

func (m *MockSink) Emit(name string, payload interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Events = append(m.Events, SinkEvent{Name: name, Payload: payload})
}

func (m *MockSink) Count(name string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	n := 0
	for _, ev := range m.Events {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func (m *MockSink) Ticks() []models.QuoteUpdate {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var ticks []models.QuoteUpdate
	for _, ev := range m.Events {
		if update, ok := ev.Payload.(models.QuoteUpdate); ok {
			ticks = append(ticks, update)
		}
	}
	return ticks
}

// MockPolicy returns a canned next quote, or fails
type MockPolicy struct {
	NextQuote  models.Quote
	ShouldFail bool
	Calls      int
	Mu         sync.Mutex
}

func (m *MockPolicy) Next(q models.Quote) (models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++
	if m.ShouldFail {
		return models.Quote{}, errors.New("policy error")
	}
	if m.NextQuote.Valid {
		next := m.NextQuote
		next.Symbol = q.Symbol
		return next, nil
	}
	return q, nil
}

type MockRand struct {
	ValInt   int
	ValFloat float64
}

func (m *MockRand) Intn(n int) int   { return m.ValInt }
func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockFeed simulates the engine from the hub's point of view
type MockFeed struct {
	SubscribeCalls map[string]int // symbol -> live refs
	BadSymbols     map[string]bool
	Mu             sync.Mutex
}

func NewMockFeed(badSymbols ...string) *MockFeed {
	m := &MockFeed{
		SubscribeCalls: make(map[string]int),
		BadSymbols:     make(map[string]bool),
	}
	for _, s := range badSymbols {
		m.BadSymbols[s] = true
	}
	return m
}

func (m *MockFeed) Subscribe(ctx context.Context, symbol string) (models.Quote, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.BadSymbols[symbol] {
		return models.Quote{}, fmt.Errorf("%w: %q", engine.ErrInvalidSymbol, symbol)
	}
	m.SubscribeCalls[symbol]++
	return models.NewQuote(symbol, 99.95, 100, 100.05, 99, 100.0), nil
}

func (m *MockFeed) Unsubscribe(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribeCalls[symbol]--
	if m.SubscribeCalls[symbol] <= 0 {
		delete(m.SubscribeCalls, symbol)
	}
	return nil
}

func (m *MockFeed) Refs(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.SubscribeCalls[symbol]
}

// MockKafkaWriter records written messages
type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }
