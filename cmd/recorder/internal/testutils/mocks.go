package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// DeadlineExceeded cleanly parks the read loop once the canned
		// stream is exhausted
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// StreamKafkaReader serves messages from a channel, honoring context
// cancellation like the real reader does. Useful for shutdown tests
// where messages must still be in flight when the context dies.
type StreamKafkaReader struct {
	Feed chan kafka.Message
}

func (m *StreamKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case msg, ok := <-m.Feed:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (m *StreamKafkaReader) Close() error { return nil }
