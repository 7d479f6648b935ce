// Package broadcast delivers events to registered handlers. Every handler
// invocation runs in its own scope frame with the application and the event
// bound, and gets its arguments from the dispatch registry.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"argon/internal/dispatch"
	"argon/internal/domain"
	"argon/internal/metrics"
	"argon/internal/scope"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

type Config struct {
	Registry    *dispatch.Registry // dispatch.Default() when nil
	Concurrency int                // handlers running at once, default 64
	MaxHistory  int                // events kept for Replay, default 1000
	Logger      *slog.Logger
}

// Record is one event in the replay history.
type Record struct {
	Event domain.Event
	At    time.Time
}

// Broadcast is a topic-based event bus keyed by event type.
type Broadcast struct {
	mu         sync.RWMutex
	handlers   map[string][]*handler
	seq        int
	app        domain.Application
	history    []Record
	maxHistory int

	registry *dispatch.Registry
	pool     *Pool
	logger   *slog.Logger
}

func New(cfg Config) *Broadcast {
	if cfg.Registry == nil {
		cfg.Registry = dispatch.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 64
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broadcast{
		handlers:   make(map[string][]*handler),
		maxHistory: cfg.MaxHistory,
		registry:   cfg.Registry,
		pool:       NewPool(cfg.Concurrency, cfg.Logger),
		logger:     cfg.Logger,
	}
}

// Bind sets the application that handlers see in their scope.
func (b *Broadcast) Bind(app domain.Application) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.app = app
}

func (b *Broadcast) application() domain.Application {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.app
}

func (b *Broadcast) Registry() *dispatch.Registry { return b.registry }

func (b *Broadcast) Scheduler() domain.Scheduler { return b.pool }

// On registers fn for eventType, or for every event with Wildcard. fn may
// take any parameters the registry can resolve and may return an error.
// Returns the handler ID for Off.
func (b *Broadcast) On(eventType string, fn any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	h, err := newHandler(eventType+"-"+strconv.Itoa(b.seq), fn)
	if err != nil {
		return "", err
	}
	b.handlers[eventType] = append(b.handlers[eventType], h)
	return h.id, nil
}

// Off removes a handler by its ID.
func (b *Broadcast) Off(eventType, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[eventType]
	for i, h := range hs {
		if h.id == id {
			b.handlers[eventType] = append(hs[:i:i], hs[i+1:]...)
			return true
		}
	}
	return false
}

// collect records ev in the history and returns its handlers, specific
// handlers first.
func (b *Broadcast) collect(ev domain.Event) []*handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.history) >= b.maxHistory {
		b.history = b.history[1:]
	}
	b.history = append(b.history, Record{Event: ev, At: time.Now()})

	var hs []*handler
	hs = append(hs, b.handlers[ev.EventType()]...)
	hs = append(hs, b.handlers[Wildcard]...)
	return hs
}

// Post schedules every matching handler on the pool and returns without
// waiting for them.
func (b *Broadcast) Post(ctx context.Context, ev domain.Event) {
	metrics.EventType(ev.EventType()).Inc()
	for _, h := range b.collect(ev) {
		b.pool.Go(ctx, func(ctx context.Context) {
			b.run(ctx, h, ev)
		})
	}
}

// Emit runs every matching handler in order on the calling goroutine and
// returns their joined errors.
func (b *Broadcast) Emit(ctx context.Context, ev domain.Event) error {
	metrics.EventType(ev.EventType()).Inc()
	var errs []error
	for _, h := range b.collect(ev) {
		if err := b.run(ctx, h, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.id, err))
		}
	}
	return errors.Join(errs...)
}

// run invokes one handler in a fresh scope frame. Panics are recovered and
// returned as errors.
func (b *Broadcast) run(ctx context.Context, h *handler, ev domain.Event) (err error) {
	ctx = scope.Fork(ctx)
	start := time.Now()
	metrics.ActiveHandlers.Inc()
	defer func() {
		metrics.ActiveHandlers.Dec()
		metrics.HandlerLatency.ObserveSince(start)
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "event", ev.EventType(), "handler", h.name, "panic", r)
			err = fmt.Errorf("handler %s panicked: %v", h.name, r)
		} else if err != nil {
			b.logger.Warn("event handler failed", "event", ev.EventType(), "handler", h.name, "err", err)
		}
		if err != nil {
			metrics.HandlerErrors.Inc()
		}
	}()
	return scope.EnterContext(ctx, b.application(), ev, func(ctx context.Context) error {
		return h.call(ctx, b.registry, ev)
	})
}

// Wait blocks until every posted handler has finished.
func (b *Broadcast) Wait() { b.pool.Wait() }

// Replay returns recorded events of eventType (or all with Wildcard) seen at
// or after since.
func (b *Broadcast) Replay(eventType string, since time.Time) []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []domain.Event
	for _, r := range b.history {
		if r.At.Before(since) {
			continue
		}
		if eventType == Wildcard || r.Event.EventType() == eventType {
			out = append(out, r.Event)
		}
	}
	return out
}

func (b *Broadcast) HistoryLen() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}
