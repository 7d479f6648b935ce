// Package app is the bot application: it owns the adapter and the broadcast,
// turns raw gateway payloads into dispatched events, and sends messages.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"argon/internal/broadcast"
	"argon/internal/dispatch"
	"argon/internal/domain"
	"argon/internal/event"
	"argon/internal/metrics"
	"argon/internal/scope"
	"argon/internal/store"
)

var (
	ErrRunning    = errors.New("app: already running")
	ErrNotRunning = errors.New("app: not running")
)

type Config struct {
	Adapter   domain.Adapter       // required
	Broadcast *broadcast.Broadcast // broadcast.New with defaults when nil
	Store     *store.SQLiteStore   // optional message log

	SendBurst     int     // default 5
	SendPerMinute float64 // default 60
	LogEvents     bool    // also keep raw events in Store

	Logger *slog.Logger
}

// App implements domain.Application.
type App struct {
	adapter domain.Adapter
	bc      *broadcast.Broadcast
	store   *store.SQLiteStore
	limiter *sendLimiter
	logRaw  bool
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

func New(cfg Config) (*App, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("app: adapter is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Broadcast == nil {
		cfg.Broadcast = broadcast.New(broadcast.Config{Logger: cfg.Logger})
	}
	a := &App{
		adapter: cfg.Adapter,
		bc:      cfg.Broadcast,
		store:   cfg.Store,
		limiter: newSendLimiter(cfg.SendBurst, cfg.SendPerMinute),
		logRaw:  cfg.LogEvents,
		logger:  cfg.Logger.With("component", "app"),
	}
	a.bc.Bind(a)
	a.bc.Registry().Use(appCatcher)
	return a, nil
}

// appCatcher supplies the bound *App to handlers that ask for it by its
// concrete type.
var appCatcher = dispatch.CatcherFunc(func(req dispatch.Request) (any, bool, error) {
	if req.Ctx == nil || req.Param != reflect.TypeOf((*App)(nil)) {
		return nil, false, nil
	}
	bound, _ := scope.Application.Get(req.Ctx)
	a, ok := bound.(*App)
	return a, ok, nil
})

func (a *App) Adapter() domain.Adapter { return a.adapter }
func (a *App) Broadcast() domain.Broadcast { return a.bc }

// Dispatcher returns the concrete broadcast for registering catchers.
func (a *App) Dispatcher() *broadcast.Broadcast { return a.bc }

// Registry returns the catcher registry handlers are resolved against.
func (a *App) Registry() *dispatch.Registry { return a.bc.Registry() }

// On registers fn for eventType; see broadcast.Broadcast.On.
func (a *App) On(eventType string, fn any) (string, error) { return a.bc.On(eventType, fn) }

func (a *App) Off(eventType, id string) bool { return a.bc.Off(eventType, id) }

// Launch starts the adapter in the background and posts ApplicationLaunched.
func (a *App) Launch(ctx context.Context) error {
	a.mu.Lock()
	if a.done != nil {
		a.mu.Unlock()
		return ErrRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel, a.done, a.runErr = cancel, done, nil
	a.mu.Unlock()

	go func() {
		defer close(done)
		err := a.adapter.Start(runCtx, a.receive)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("adapter stopped", "err", err)
			a.mu.Lock()
			a.runErr = err
			a.mu.Unlock()
		}
	}()

	a.logger.Info("application launched", "account", a.adapter.Session().Account)
	a.bc.Post(runCtx, event.ApplicationLaunched{App: a})
	return nil
}

// Stop runs the ApplicationShutdown handlers, stops the adapter and waits for
// running handlers to finish.
func (a *App) Stop() error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}

	if err := a.bc.Emit(context.Background(), event.ApplicationShutdown{App: a}); err != nil {
		a.logger.Warn("shutdown handlers failed", "err", err)
	}
	stopErr := a.adapter.Stop()
	cancel()
	<-done
	a.bc.Wait()

	a.mu.Lock()
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	a.logger.Info("application stopped")
	return stopErr
}

// Lifecycle launches the application and blocks until ctx is done or the
// adapter exits, then stops it. It returns the adapter's failure, if any.
func (a *App) Lifecycle(ctx context.Context) error {
	if err := a.Launch(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-done:
	}
	stopErr := a.Stop()

	a.mu.Lock()
	runErr := a.runErr
	a.mu.Unlock()
	if runErr != nil {
		return runErr
	}
	return stopErr
}

// receive decodes one raw payload from the adapter and posts it.
func (a *App) receive(ctx context.Context, raw json.RawMessage) {
	metrics.EventsReceived.Inc()
	ev, err := event.Decode(raw)
	if err != nil {
		metrics.DecodeFailures.Inc()
		a.logger.Warn("dropping undecodable event", "err", err)
		return
	}
	a.record(ctx, ev, raw)
	a.bc.Post(ctx, ev)
}

func (a *App) record(ctx context.Context, ev domain.Event, raw json.RawMessage) {
	if a.store == nil {
		return
	}
	if a.logRaw {
		if err := a.store.LogEvent(ctx, ev.EventType(), raw); err != nil {
			a.logger.Warn("log event failed", "err", err)
		}
	}
	ce, ok := ev.(dispatch.ChainEvent)
	if !ok {
		return
	}
	chain := ce.MessageChain()
	src, err := sourceOf(chain)
	if err != nil {
		return
	}
	subject, sender := subjectOf(ev)
	err = a.store.SaveMessage(ctx, store.Message{
		ID:        src.ID,
		Subject:   subject,
		Kind:      ev.EventType(),
		Direction: store.Inbound,
		Sender:    sender,
		Chain:     chain,
		CreatedAt: src.Time,
	})
	if err != nil {
		a.logger.Warn("store message failed", "id", src.ID, "err", err)
	}
}

// subjectOf returns the conversation and sender ids of a message event.
func subjectOf(ev domain.Event) (subject, sender int64) {
	switch e := ev.(type) {
	case event.FriendMessage:
		return e.Sender.ID, e.Sender.ID
	case event.GroupMessage:
		return e.Sender.Group.ID, e.Sender.ID
	case event.TempMessage:
		return e.Sender.ID, e.Sender.ID
	case event.StrangerMessage:
		return e.Sender.ID, e.Sender.ID
	case event.OtherClientMessage:
		return e.Sender.ID, e.Sender.ID
	}
	return 0, 0
}

func decode[T any](data json.RawMessage, what string) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", what, err)
	}
	return v, nil
}
