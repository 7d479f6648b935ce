package dispatch

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnresolved is returned when no catcher matches a parameter.
var ErrUnresolved = errors.New("dispatch: no catcher matched parameter")

// Registry is an ordered list of catchers, tried first to last.
type Registry struct {
	mu       sync.RWMutex
	catchers []Catcher
}

func NewRegistry(catchers ...Catcher) *Registry {
	return &Registry{catchers: append([]Catcher(nil), catchers...)}
}

// Default returns a registry with the built-in catchers in priority order:
// context, chain, source, application, event, event params.
func Default() *Registry {
	return NewRegistry(
		ContextCatcher,
		ChainCatcher,
		SourceCatcher,
		ApplicationCatcher,
		EventCatcher,
		EventParamCatcher,
	)
}

// Use appends a catcher with the lowest priority.
func (r *Registry) Use(c Catcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchers = append(r.catchers, c)
}

// Prepend adds a catcher with the highest priority.
func (r *Registry) Prepend(c Catcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catchers = append([]Catcher{c}, r.catchers...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.catchers)
}

// Resolve returns the value of the first matching catcher. A matching catcher
// that fails stops the search and its error is returned.
func (r *Registry) Resolve(req Request) (any, error) {
	r.mu.RLock()
	catchers := r.catchers
	r.mu.RUnlock()

	for _, c := range catchers {
		v, ok, err := c.Catch(req)
		if err != nil {
			return nil, err
		}
		if ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnresolved, req.Param)
}
