// Package dispatch resolves handler parameters. A Registry holds an ordered
// list of catchers; for each declared parameter the first catcher that
// matches supplies the argument.
package dispatch

import (
	"context"
	"reflect"

	"argon/internal/domain"
	"argon/internal/message"
	"argon/internal/scope"
)

// Request describes one handler parameter to resolve.
type Request struct {
	Ctx   context.Context
	Param reflect.Type
	Event domain.Event
}

// event returns the request's event, falling back to the one bound in scope.
func (r Request) event() domain.Event {
	if r.Event != nil {
		return r.Event
	}
	if r.Ctx == nil {
		return nil
	}
	ev, _ := scope.Event.Get(r.Ctx)
	return ev
}

// Catcher supplies a value for a parameter it recognises. A catcher that does
// not recognise the parameter returns matched=false and no error. Catchers
// must not have side effects.
type Catcher interface {
	Catch(req Request) (value any, matched bool, err error)
}

// CatcherFunc adapts a function to Catcher.
type CatcherFunc func(req Request) (any, bool, error)

func (f CatcherFunc) Catch(req Request) (any, bool, error) { return f(req) }

// ChainEvent is implemented by events that carry a message chain.
type ChainEvent interface {
	MessageChain() *message.Chain
}

// ParamCatcher is implemented by events that can supply values of their own,
// such as the sender of a message.
type ParamCatcher interface {
	CatchParam(t reflect.Type) (any, bool)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	chainType   = reflect.TypeOf((*message.Chain)(nil))
	sourceType  = reflect.TypeOf(message.Source{})
)

// ContextCatcher supplies the handler's context.
var ContextCatcher = CatcherFunc(func(req Request) (any, bool, error) {
	if req.Param != contextType || req.Ctx == nil {
		return nil, false, nil
	}
	return req.Ctx, true, nil
})

// ChainCatcher supplies the current event's message chain.
var ChainCatcher = CatcherFunc(func(req Request) (any, bool, error) {
	if req.Param != chainType {
		return nil, false, nil
	}
	ce, ok := req.event().(ChainEvent)
	if !ok {
		return nil, false, nil
	}
	return ce.MessageChain(), true, nil
})

// SourceCatcher supplies the Source of the current event's chain. A chain
// without one is an error, not a miss.
var SourceCatcher = CatcherFunc(func(req Request) (any, bool, error) {
	if req.Param != sourceType {
		return nil, false, nil
	}
	ce, ok := req.event().(ChainEvent)
	if !ok {
		return nil, false, nil
	}
	src, err := message.GetFirst[message.Source](ce.MessageChain())
	if err != nil {
		return nil, true, err
	}
	return src, true, nil
})

// ApplicationCatcher supplies the bound application to any parameter whose
// type is named Application, pointer or not, provided the bound value fits.
var ApplicationCatcher = CatcherFunc(func(req Request) (any, bool, error) {
	if req.Ctx == nil || typeName(req.Param) != "Application" {
		return nil, false, nil
	}
	app, ok := scope.Application.Get(req.Ctx)
	if !ok || app == nil {
		return nil, false, nil
	}
	if !reflect.TypeOf(app).AssignableTo(req.Param) {
		return nil, false, nil
	}
	return app, true, nil
})

// EventCatcher supplies the event itself when its dynamic type fits the
// parameter.
var EventCatcher = CatcherFunc(func(req Request) (any, bool, error) {
	ev := req.event()
	if ev == nil || !reflect.TypeOf(ev).AssignableTo(req.Param) {
		return nil, false, nil
	}
	return ev, true, nil
})

// EventParamCatcher lets events that implement ParamCatcher supply values.
var EventParamCatcher = CatcherFunc(func(req Request) (any, bool, error) {
	pc, ok := req.event().(ParamCatcher)
	if !ok {
		return nil, false, nil
	}
	v, ok := pc.CatchParam(req.Param)
	return v, ok, nil
})

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
