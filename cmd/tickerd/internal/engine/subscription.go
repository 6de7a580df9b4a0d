package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// Subscription pairs a symbol's most recent quote with its subscriber
// count. The symbol is canonical (uppercase) and immutable; the quote is
// replaced wholesale on each successful update; the count is only ever
// touched by Subscribe/Unsubscribe, never by the scheduler.
type Subscription struct {
	symbol string

	mu    sync.RWMutex
	quote models.Quote

	count atomic.Int64
	seq   atomic.Int64
}

// NewSubscription seeds a subscription with its first quote and a
// subscriber count of 1.
func NewSubscription(symbol string, seed models.Quote) (*Subscription, error) {
	if !seed.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSubscriptionSeed, symbol)
	}
	s := &Subscription{symbol: symbol, quote: seed}
	s.count.Store(1)
	return s, nil
}

func (s *Subscription) Symbol() string { return s.symbol }

// Quote returns the current quote. It may be stale relative to in-flight
// updates; whichever update wrote last wins.
func (s *Subscription) Quote() models.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quote
}

func (s *Subscription) Subscribers() int64 { return s.count.Load() }

func (s *Subscription) HasSubscribers() bool { return s.count.Load() > 0 }

func (s *Subscription) addSubscriber() int64 { return s.count.Add(1) }

func (s *Subscription) removeSubscriber() int64 { return s.count.Add(-1) }

// replaceQuote installs the refreshed quote and stamps it with the next
// sequence id for this symbol.
func (s *Subscription) replaceQuote(q models.Quote) models.QuoteUpdate {
	s.mu.Lock()
	s.quote = q
	s.mu.Unlock()

	return models.QuoteUpdate{
		Quote:     q,
		Timestamp: time.Now().UnixMicro(),
		SeqID:     s.seq.Add(1),
	}
}
