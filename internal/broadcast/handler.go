package broadcast

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"

	"argon/internal/dispatch"
	"argon/internal/domain"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// handler is a registered function whose parameters are filled by the
// dispatch registry.
type handler struct {
	id     string
	name   string
	fn     reflect.Value
	params []reflect.Type
}

func newHandler(id string, fn any) (*handler, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return nil, fmt.Errorf("broadcast: handler must be a function, got %T", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return nil, errors.New("broadcast: variadic handlers are not supported")
	}
	switch {
	case t.NumOut() == 0:
	case t.NumOut() == 1 && t.Out(0) == errorType:
	default:
		return nil, fmt.Errorf("broadcast: handler may only return error, got %s", t)
	}
	params := make([]reflect.Type, t.NumIn())
	for i := range params {
		params[i] = t.In(i)
	}
	return &handler{
		id:     id,
		name:   runtime.FuncForPC(v.Pointer()).Name(),
		fn:     v,
		params: params,
	}, nil
}

// call resolves every parameter and invokes the handler.
func (h *handler) call(ctx context.Context, reg *dispatch.Registry, ev domain.Event) error {
	args := make([]reflect.Value, len(h.params))
	for i, p := range h.params {
		v, err := reg.Resolve(dispatch.Request{Ctx: ctx, Param: p, Event: ev})
		if err != nil {
			return fmt.Errorf("param %d (%s): %w", i, p, err)
		}
		if v == nil {
			args[i] = reflect.Zero(p)
			continue
		}
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(p) {
			return fmt.Errorf("param %d: catcher returned %s for %s", i, rv.Type(), p)
		}
		args[i] = rv
	}
	out := h.fn.Call(args)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
