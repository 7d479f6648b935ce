package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"argon/internal/domain"
	"argon/internal/message"
	"argon/internal/scope"
)

type chainEvent struct {
	chain  *message.Chain
	sender domain.Friend
}

func (chainEvent) EventType() string { return "FriendMessage" }
func (e chainEvent) MessageChain() *message.Chain { return e.chain }

func (e chainEvent) CatchParam(t reflect.Type) (any, bool) {
	if t == reflect.TypeOf(domain.Friend{}) {
		return e.sender, true
	}
	return nil, false
}

type plainEvent struct{}

func (plainEvent) EventType() string { return "BotOnlineEvent" }

type Application struct{ name string }

func (*Application) Adapter() domain.Adapter { return nil }
func (*Application) Broadcast() domain.Broadcast { return nil }

type Other struct{}

type ctxKey struct{}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }

func TestChainCatcher(t *testing.T) {
	chain := message.MustChain("hi")
	ev := chainEvent{chain: chain}

	v, err := Default().Resolve(Request{Ctx: context.Background(), Param: typeOf[*message.Chain](), Event: ev})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.(*message.Chain) != chain {
		t.Error("wrong chain")
	}

	_, ok, _ := ChainCatcher.Catch(Request{Param: typeOf[*message.Chain](), Event: plainEvent{}})
	if ok {
		t.Error("chain catcher matched an event without a chain")
	}
}

func TestSourceCatcher(t *testing.T) {
	src := message.Source{ID: 1, Time: time.Unix(100, 0)}
	ev := chainEvent{chain: message.MustChain(src, "hi")}

	v, err := Default().Resolve(Request{Param: typeOf[message.Source](), Event: ev})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v.(message.Source).ID != 1 {
		t.Errorf("source = %+v", v)
	}

	_, err = Default().Resolve(Request{Param: typeOf[message.Source](), Event: chainEvent{chain: message.MustChain("hi")}})
	if !errors.Is(err, message.ErrNoSuchElement) {
		t.Fatalf("expected ErrNoSuchElement, got %v", err)
	}
}

func TestApplicationCatcherByName(t *testing.T) {
	app := &Application{name: "bot"}
	err := scope.EnterContext(context.Background(), app, nil, func(ctx context.Context) error {
		v, err := Default().Resolve(Request{Ctx: ctx, Param: typeOf[*Application]()})
		if err != nil {
			return err
		}
		if v.(*Application) != app {
			t.Error("wrong application")
		}
		v, err = Default().Resolve(Request{Ctx: ctx, Param: typeOf[domain.Application]()})
		if err != nil {
			return err
		}
		if v.(domain.Application) != domain.Application(app) {
			t.Error("interface param got wrong application")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
}

func TestApplicationCatcherUnbound(t *testing.T) {
	_, ok, err := ApplicationCatcher.Catch(Request{Ctx: context.Background(), Param: typeOf[*Application]()})
	if ok || err != nil {
		t.Fatalf("unbound application matched: %v %v", ok, err)
	}
}

func TestEventAndParamCatchers(t *testing.T) {
	ev := chainEvent{chain: message.MustChain("x"), sender: domain.Friend{ID: 42}}
	reg := Default()

	v, err := reg.Resolve(Request{Param: typeOf[chainEvent](), Event: ev})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	if v.(chainEvent).sender.ID != 42 {
		t.Error("wrong event")
	}

	v, err = reg.Resolve(Request{Param: typeOf[domain.Friend](), Event: ev})
	if err != nil {
		t.Fatalf("friend: %v", err)
	}
	if v.(domain.Friend).ID != 42 {
		t.Errorf("friend = %+v", v)
	}
}

func TestContextCatcher(t *testing.T) {
	ctx := context.WithValue(context.Background(), ctxKey{}, 1)
	v, err := Default().Resolve(Request{Ctx: ctx, Param: typeOf[context.Context]()})
	if err != nil || v != ctx {
		t.Fatalf("context = %v, %v", v, err)
	}
}

func TestEventFromScope(t *testing.T) {
	ev := chainEvent{chain: message.MustChain("scoped")}
	err := scope.EnterContext(context.Background(), nil, ev, func(ctx context.Context) error {
		v, err := Default().Resolve(Request{Ctx: ctx, Param: typeOf[*message.Chain]()})
		if err != nil {
			return err
		}
		if v.(*message.Chain).Display() != "scoped" {
			t.Error("chain not taken from scoped event")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUnresolved(t *testing.T) {
	_, err := Default().Resolve(Request{Param: typeOf[Other](), Event: plainEvent{}})
	if !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}

func TestRegistryOrder(t *testing.T) {
	reg := Default()
	reg.Prepend(CatcherFunc(func(req Request) (any, bool, error) {
		if req.Param == typeOf[*message.Chain]() {
			return message.MustChain("override"), true, nil
		}
		return nil, false, nil
	}))
	reg.Use(CatcherFunc(func(req Request) (any, bool, error) {
		return json.RawMessage("{}"), true, nil
	}))

	v, _ := reg.Resolve(Request{Param: typeOf[*message.Chain](), Event: chainEvent{chain: message.MustChain("x")}})
	if v.(*message.Chain).Display() != "override" {
		t.Error("prepended catcher did not win")
	}
	if _, err := reg.Resolve(Request{Param: typeOf[Other]()}); err != nil {
		t.Errorf("fallback catcher not used: %v", err)
	}
	if reg.Len() != 8 {
		t.Errorf("len = %d", reg.Len())
	}
}
