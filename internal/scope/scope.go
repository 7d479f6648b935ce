package scope

import (
	"context"
	"errors"
	"log/slog"

	"argon/internal/domain"
)

// Ambient slots.
var (
	Application  = NewVar[domain.Application]("application")
	Adapter      = NewVar[domain.Adapter]("adapter")
	Scheduler    = NewVar[domain.Scheduler]("event_loop")
	Broadcast    = NewVar[domain.Broadcast]("broadcast")
	Event        = NewVar[domain.Event]("event")
	UploadMethod = NewVar[domain.UploadMethod]("upload_method")
)

// EnterMessageSendContext runs fn on a fork of ctx with the upload method
// bound. Other tasks sharing ctx keep their own binding. The binding is
// cleared on every exit path.
func EnterMessageSendContext(ctx context.Context, method domain.UploadMethod, fn func(ctx context.Context) error) error {
	ctx = Fork(ctx)
	tok, err := UploadMethod.Set(ctx, method)
	if err != nil {
		return err
	}
	defer func() {
		if err := UploadMethod.Reset(ctx, tok); err != nil {
			swallow(ctx, UploadMethod.Name(), err)
		}
	}()
	return fn(ctx)
}

// EnterContext binds the application's handles (application, scheduler,
// broadcast, adapter) when app is non-nil and the event when ev is non-nil,
// then runs fn on a fork of ctx, so tasks sharing ctx never see each other's
// bindings.
//
// Every slot this call set is reset when fn returns or panics. Reset failures
// caused by a slot already torn down elsewhere are logged and dropped.
func EnterContext(ctx context.Context, app domain.Application, ev domain.Event, fn func(ctx context.Context) error) error {
	ctx = Fork(ctx)

	var undo []func() (string, error)
	defer func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if name, err := undo[i](); err != nil {
				swallow(ctx, name, err)
			}
		}
	}()

	if app != nil {
		if err := bind(ctx, &undo, Application, app); err != nil {
			return err
		}
		if bc := app.Broadcast(); bc != nil {
			if err := bind(ctx, &undo, Scheduler, bc.Scheduler()); err != nil {
				return err
			}
			if err := bind(ctx, &undo, Broadcast, bc); err != nil {
				return err
			}
		}
		if err := bind(ctx, &undo, Adapter, app.Adapter()); err != nil {
			return err
		}
	}
	if ev != nil {
		if err := bind(ctx, &undo, Event, ev); err != nil {
			return err
		}
	}
	return fn(ctx)
}

func bind[T any](ctx context.Context, undo *[]func() (string, error), v *Var[T], val T) error {
	tok, err := v.Set(ctx, val)
	if err != nil {
		return err
	}
	*undo = append(*undo, func() (string, error) {
		return v.Name(), v.Reset(ctx, tok)
	})
	return nil
}

// swallow drops reset errors that mean the slot was already torn down by
// another scope sharing the frame. Anything else is still only logged: the
// caller is unwinding and has no way to act on it.
func swallow(ctx context.Context, slot string, err error) {
	if errors.Is(err, ErrTokenUsed) || errors.Is(err, ErrTokenMismatch) {
		slog.DebugContext(ctx, "scope reset skipped", "slot", slot, "err", err)
		return
	}
	slog.WarnContext(ctx, "scope reset failed", "slot", slot, "err", err)
}
