package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/pkg/models"
)

// Event names carried by EventSink.Emit.
const (
	EventTick  = "tick"
	EventError = "error"
)

const (
	// DefaultInterval applies when the caller passes a non-positive
	// interval. MaxInterval caps caller-requested intervals; anything
	// larger is silently reduced.
	DefaultInterval = time.Second
	MaxInterval     = time.Second
)

// ExternalQuoter resolves the initial quote for a symbol. Implementations
// return ErrUnknownSymbol (wrapped or bare) for symbols that do not
// resolve; any other error is treated as an upstream outage.
type ExternalQuoter interface {
	GetQuote(ctx context.Context, symbol string) (models.Quote, error)
}

// EventSink receives tick and error broadcasts, fire-and-forget. Payloads
// are models.QuoteUpdate for EventTick and *TickError for EventError.
type EventSink interface {
	Emit(name string, payload interface{})
}

// TickPolicy produces the next quote from the current one. The engine
// consults the external quoter exactly once per symbol, on first
// subscribe; every subsequent refresh goes through the policy. Swapping
// the simulated policy for one backed by a real feed changes that
// trade-off without touching the engine.
type TickPolicy interface {
	Next(q models.Quote) (models.Quote, error)
}

// Engine owns the active subscription set and the scheduler that
// refreshes it. Demand is reference-counted: the scheduler starts when
// the first subscription appears and stops when the last one is removed.
type Engine struct {
	quoter   ExternalQuoter
	sink     EventSink
	policy   TickPolicy
	logger   *zap.Logger
	interval time.Duration

	// mu guards subs and scheduler transitions. It is held across the
	// initial quoter fetch so that two concurrent first-subscribes for
	// one symbol cannot both insert.
	mu      sync.Mutex
	subs    []*Subscription
	running atomic.Bool
	stop    chan struct{}
}

// New builds an engine. The quoter and policy are required; a nil sink
// discards events.
func New(quoter ExternalQuoter, sink EventSink, policy TickPolicy, logger *zap.Logger, interval time.Duration) (*Engine, error) {
	if quoter == nil {
		return nil, ErrMissingQuoter
	}
	if policy == nil {
		return nil, ErrMissingPolicy
	}
	if sink == nil {
		sink = nopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		quoter:   quoter,
		sink:     sink,
		policy:   policy,
		logger:   logger,
		interval: clampInterval(interval),
	}, nil
}

// Canonical normalizes a symbol for lookup.
func Canonical(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func clampInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Subscribe registers interest in a symbol and returns its quote. For a
// symbol already in the active set this increments the subscriber count
// and returns the current in-memory quote as-is, stale or not; there is
// no re-fetch. A new symbol is resolved through the quoter, seeded into
// the active set with count 1, and the scheduler is started.
func (e *Engine) Subscribe(ctx context.Context, symbol string) (models.Quote, error) {
	sym := Canonical(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	if s := e.findLocked(sym); s != nil {
		s.addSubscriber()
		return s.Quote(), nil
	}

	quote, err := e.quoter.GetQuote(ctx, sym)
	if err != nil {
		if errors.Is(err, ErrUnknownSymbol) {
			return models.Quote{}, fmt.Errorf("%w: %s: %w", ErrInvalidSymbol, sym, err)
		}
		return models.Quote{}, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, sym, err)
	}

	sub, err := NewSubscription(sym, quote)
	if err != nil {
		return models.Quote{}, err
	}

	e.subs = append(e.subs, sub)
	e.startLocked()

	e.logger.Info("Subscribed", zap.String("symbol", sym), zap.Int("active", len(e.subs)))
	return quote, nil
}

// Unsubscribe releases one subscriber of a symbol. Unknown symbols are a
// no-op. When the count reaches zero the subscription is removed
// synchronously, and when the active set empties the scheduler stops.
func (e *Engine) Unsubscribe(ctx context.Context, symbol string) error {
	sym := Canonical(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.findLocked(sym)
	if s == nil {
		return nil
	}

	if s.removeSubscriber() > 0 {
		return nil
	}

	e.removeLocked(sym)
	if len(e.subs) == 0 {
		e.stopLocked()
	}

	e.logger.Info("Unsubscribed", zap.String("symbol", sym), zap.Int("active", len(e.subs)))
	return nil
}

// FindSubscription scans the active set for a symbol, nil when absent.
func (e *Engine) FindSubscription(symbol string) *Subscription {
	sym := Canonical(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findLocked(sym)
}

// Active reports the size of the active subscription set.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Running reports whether the scheduler is ticking.
func (e *Engine) Running() bool { return e.running.Load() }

// Interval reports the effective tick interval after clamping.
func (e *Engine) Interval() time.Duration { return e.interval }

// StartTicker transitions the scheduler to Running. No-op when already
// running.
func (e *Engine) StartTicker() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startLocked()
}

// StopTicker transitions the scheduler to Stopped. Idempotent. In-flight
// updates already issued by a tick are not cancelled: their results still
// land and still broadcast.
func (e *Engine) StopTicker() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *Engine) findLocked(sym string) *Subscription {
	for _, s := range e.subs {
		if s.symbol == sym {
			return s
		}
	}
	return nil
}

func (e *Engine) removeLocked(sym string) {
	for i, s := range e.subs {
		if s.symbol == sym {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

func (e *Engine) startLocked() {
	if e.running.Load() {
		return
	}
	e.running.Store(true)
	e.stop = make(chan struct{})
	go e.run(e.stop)
	e.logger.Info("Ticker started", zap.Duration("interval", e.interval))
}

func (e *Engine) stopLocked() {
	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	close(e.stop)
	e.logger.Info("Ticker stopped")
}

func (e *Engine) run(stop <-chan struct{}) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick refreshes every subscription with live subscribers. It iterates a
// snapshot of the active set so concurrent subscribes and unsubscribes
// never perturb an in-progress tick; if the scheduler stops mid-iteration
// the remaining entries are skipped. Per-symbol refreshes run in their
// own goroutines and the next tick never waits for them, so updates for
// one symbol may overlap and complete out of order.
func (e *Engine) tick() {
	e.mu.Lock()
	snapshot := make([]*Subscription, len(e.subs))
	copy(snapshot, e.subs)
	e.mu.Unlock()

	for _, sub := range snapshot {
		if !e.running.Load() {
			return
		}
		if !sub.HasSubscribers() {
			continue
		}
		go e.refresh(sub)
	}
}

func (e *Engine) refresh(sub *Subscription) {
	next, err := e.policy.Next(sub.Quote())
	if err != nil {
		e.logger.Warn("Quote update failed", zap.String("symbol", sub.Symbol()), zap.Error(err))
		e.sink.Emit(EventError, &TickError{Symbol: sub.Symbol(), Err: err})
		return
	}

	update := sub.replaceQuote(next)
	e.sink.Emit(EventTick, update)
}

type nopSink struct{}

func (nopSink) Emit(string, interface{}) {}
