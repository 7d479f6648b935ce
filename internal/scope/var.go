// Package scope holds the task-local bindings a handler sees while it runs:
// the current application, adapter, scheduler, broadcast, event and upload
// method.
//
// Bindings live in a Frame carried by a context.Context. Each dispatched task
// gets its own Frame (see Fork), so two events handled concurrently never see
// each other's values. Within a Frame, a Var is set and later reset with the
// Token that Set returned, which restores whatever was bound before.
package scope

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNoFrame is returned by Set when ctx carries no task frame.
	ErrNoFrame = errors.New("scope: context has no task frame")
	// ErrTokenUsed is returned when a token is reset twice.
	ErrTokenUsed = errors.New("scope: token has already been used")
	// ErrTokenMismatch is returned when a token is reset through a different
	// var or in a different task frame than the one that created it.
	ErrTokenMismatch = errors.New("scope: token was created by a different var or frame")
)

type frameKey struct{}

// Frame is one task's set of bindings.
type Frame struct {
	mu   sync.RWMutex
	vals map[any]any
}

// Fork returns a context carrying a new Frame that starts with a snapshot of
// the parent's bindings. Later changes on either side are not visible to the
// other.
func Fork(ctx context.Context) context.Context {
	f := &Frame{vals: make(map[any]any)}
	if parent := FrameFrom(ctx); parent != nil {
		parent.mu.RLock()
		for k, v := range parent.vals {
			f.vals[k] = v
		}
		parent.mu.RUnlock()
	}
	return context.WithValue(ctx, frameKey{}, f)
}

// FrameFrom returns the task frame carried by ctx, or nil.
func FrameFrom(ctx context.Context) *Frame {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(frameKey{}).(*Frame)
	return f
}

// Var is a typed slot in a task frame.
type Var[T any] struct {
	name string
}

// NewVar creates a slot. name is only used in log output.
func NewVar[T any](name string) *Var[T] {
	return &Var[T]{name: name}
}

func (v *Var[T]) Name() string { return v.name }

// Get returns the bound value, or false if the slot is unbound or ctx has no frame.
func (v *Var[T]) Get(ctx context.Context) (T, bool) {
	var zero T
	f := FrameFrom(ctx)
	if f == nil {
		return zero, false
	}
	f.mu.RLock()
	raw, ok := f.vals[v]
	f.mu.RUnlock()
	if !ok {
		return zero, false
	}
	val, ok := raw.(T)
	return val, ok
}

// Set binds val in ctx's frame and returns a token that undoes the binding.
func (v *Var[T]) Set(ctx context.Context, val T) (*Token, error) {
	f := FrameFrom(ctx)
	if f == nil {
		return nil, ErrNoFrame
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	prev, had := f.vals[v]
	f.vals[v] = val
	return &Token{slot: v, frame: f, prev: prev, had: had}, nil
}

// Reset restores the binding that was in place before tok's Set.
func (v *Var[T]) Reset(ctx context.Context, tok *Token) error {
	if tok == nil {
		return ErrTokenMismatch
	}
	f := FrameFrom(ctx)
	if f == nil || tok.frame != f || tok.slot != any(v) {
		return ErrTokenMismatch
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if tok.used {
		return ErrTokenUsed
	}
	tok.used = true
	if tok.had {
		f.vals[v] = tok.prev
	} else {
		delete(f.vals, v)
	}
	return nil
}

// Token records a single Set.
type Token struct {
	slot  any
	frame *Frame
	prev  any
	had   bool
	used  bool
}
