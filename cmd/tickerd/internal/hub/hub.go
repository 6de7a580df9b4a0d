package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/protocol"
	"github.com/athiwatp/ticker-tapi/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// QuoteFeed is the upstream the hub subscribes against. The engine
// satisfies it; the engine's subscriber count for a symbol is exactly
// the number of live (client, symbol) pairs held here.
type QuoteFeed interface {
	Subscribe(ctx context.Context, symbol string) (models.Quote, error)
	Unsubscribe(ctx context.Context, symbol string) error
}

// Hub routes engine broadcasts to WebSocket clients and translates
// client commands into feed subscribe/unsubscribe calls, one per
// (client, symbol) pair.
type Hub struct {
	feed   QuoteFeed
	logger *zap.Logger

	mu          sync.RWMutex
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]bool
}

func NewHub(feed QuoteFeed, logger *zap.Logger) *Hub {
	return &Hub{
		feed:        feed,
		logger:      logger,
		subscribers: make(map[string]map[ClientInterface]bool),
		clientSubs:  make(map[ClientInterface]map[string]bool),
	}
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var accepted []string
	var rejected []string
	var snapshots []models.Quote

	for _, raw := range req.Payload.Symbols {
		sym := engine.Canonical(raw)
		if sym == "" {
			continue
		}
		// Idempotency: Ignore if already subscribed
		if h.clientSubs[client] != nil && h.clientSubs[client][sym] {
			continue
		}

		quote, err := h.feed.Subscribe(context.Background(), sym)
		if err != nil {
			h.logger.Warn("Subscribe rejected", zap.String("client", client.ID()), zap.String("symbol", sym), zap.Error(err))
			rejected = append(rejected, sym)
			continue
		}

		if h.clientSubs[client] == nil {
			h.clientSubs[client] = make(map[string]bool)
		}
		h.clientSubs[client][sym] = true
		if h.subscribers[sym] == nil {
			h.subscribers[sym] = make(map[ClientInterface]bool)
		}
		h.subscribers[sym][client] = true

		accepted = append(accepted, sym)
		snapshots = append(snapshots, quote)
	}

	if len(accepted) == 0 {
		h.sendError(client, req.ID, fmt.Sprintf("No valid/new symbols in %v", req.Payload.Symbols))
		return
	}

	msg := fmt.Sprintf("Subscribed to %v", accepted)
	if len(rejected) > 0 {
		msg += fmt.Sprintf(" (rejected %v)", rejected)
	}
	h.sendAck(client, req.ID, "success", msg)

	// Initial snapshots go out async so slow clients don't hold the lock
	go func(quotes []models.Quote) {
		for _, q := range quotes {
			client.SendJSON(protocol.WSResponse{Type: "quote", Data: q})
		}
	}(snapshots)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var removed []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, raw := range req.Payload.Symbols {
			sym := engine.Canonical(raw)
			if subs[sym] {
				h.releaseLocked(client, sym)
				removed = append(removed, sym)
			}
		}
	}

	if len(removed) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", removed))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		for sym := range subs {
			h.releaseLocked(client, sym)
		}
	}
	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

// Unregister drops a disconnected client and releases every symbol it
// held.
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.clientSubs[client]; ok {
		h.logger.Debug("Client disconnected", zap.String("client", client.ID()), zap.Int("symbols", len(subs)))
		for sym := range subs {
			h.releaseLocked(client, sym)
		}
		delete(h.clientSubs, client)
	}
	client.Close()
}

// releaseLocked tears down one (client, symbol) pair and its upstream
// reference. Callers hold h.mu.
func (h *Hub) releaseLocked(client ClientInterface, sym string) {
	delete(h.clientSubs[client], sym)
	delete(h.subscribers[sym], client)
	if len(h.subscribers[sym]) == 0 {
		delete(h.subscribers, sym)
	}
	if err := h.feed.Unsubscribe(context.Background(), sym); err != nil {
		h.logger.Error("Failed to unsubscribe upstream", zap.String("symbol", sym), zap.Error(err))
	}
}

// Emit implements the engine's EventSink: tick updates become quote
// frames for that symbol's subscribers, tick errors become error frames.
func (h *Hub) Emit(name string, payload interface{}) {
	switch name {
	case engine.EventTick:
		update, ok := payload.(models.QuoteUpdate)
		if !ok {
			return
		}
		body, err := json.Marshal(protocol.WSResponse{Type: "quote", Data: update})
		if err != nil {
			return
		}
		h.Broadcast(update.Symbol, body)

	case engine.EventError:
		tickErr, ok := payload.(*engine.TickError)
		if !ok {
			return
		}
		body, err := json.Marshal(protocol.WSResponse{Type: "error", Message: tickErr.Error()})
		if err != nil {
			return
		}
		h.Broadcast(tickErr.Symbol, body)
	}
}

func (h *Hub) Broadcast(symbol string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if clients, ok := h.subscribers[symbol]; ok {
		for client := range clients {
			client.SendBytes(payload)
		}
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "ack", ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: "error", ID: id, Message: msg})
}
