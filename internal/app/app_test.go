package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"argon/internal/domain"
	"argon/internal/event"
	"argon/internal/message"
	"argon/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

type call struct {
	command string
	method  domain.CallMethod
	params  map[string]any
}

// fakeAdapter answers calls from a table and delivers whatever is pushed to
// its inbox while started.
type fakeAdapter struct {
	mu        sync.Mutex
	calls     []call
	responses map[string]string
	inbox     chan json.RawMessage
	startErr  error
	stopped   bool
}

func newFakeAdapter(responses map[string]string) *fakeAdapter {
	return &fakeAdapter{responses: responses, inbox: make(chan json.RawMessage, 8)}
}

func (f *fakeAdapter) Start(ctx context.Context, deliver func(context.Context, json.RawMessage)) error {
	if f.startErr != nil {
		return f.startErr
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-f.inbox:
			deliver(ctx, raw)
		}
	}
}

func (f *fakeAdapter) Call(_ context.Context, command string, method domain.CallMethod, params map[string]any) (json.RawMessage, error) {
	// Snapshot the params the way a transport would see them.
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var snap map[string]any
	json.Unmarshal(encoded, &snap)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{command: command, method: method, params: snap})
	resp, ok := f.responses[command]
	if !ok {
		return nil, errors.New("no such command: " + command)
	}
	return json.RawMessage(resp), nil
}

func (f *fakeAdapter) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeAdapter) Session() domain.Session { return domain.Session{Account: 10001} }

func (f *fakeAdapter) callsTo(command string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.command == command {
			out = append(out, c)
		}
	}
	return out
}

func newTestApp(t *testing.T, fa *fakeAdapter, withStore bool) *App {
	t.Helper()
	cfg := Config{Adapter: fa, SendBurst: 100, SendPerMinute: 6000, Logger: testLogger()}
	if withStore {
		s, err := store.Open(filepath.Join(t.TempDir(), "argon.db"), testLogger())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		cfg.Store = s
		cfg.LogEvents = true
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestNewRequiresAdapter(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without adapter")
	}
}

func TestSendGroupMessage(t *testing.T) {
	fa := newFakeAdapter(map[string]string{
		"sendGroupMessage": `{"code":0,"msg":"success","messageId":77}`,
	})
	a := newTestApp(t, fa, true)
	ctx := context.Background()

	chain := message.MustChain(message.At{Target: 5}, " hello")
	id, err := a.SendGroupMessage(ctx, 123, chain, Quote(9))
	if err != nil {
		t.Fatalf("SendGroupMessage: %v", err)
	}
	if id != 77 {
		t.Errorf("id = %d, want 77", id)
	}

	calls := fa.callsTo("sendGroupMessage")
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	p := calls[0].params
	if calls[0].method != domain.CallPost || p["target"] != float64(123) || p["quote"] != float64(9) {
		t.Errorf("params = %v", p)
	}
	records, _ := p["messageChain"].([]any)
	if len(records) != 2 {
		t.Fatalf("messageChain = %v", p["messageChain"])
	}
	if rec := records[0].(map[string]any); rec["type"] != "At" || rec["target"] != float64(5) {
		t.Errorf("first record = %v", rec)
	}

	got, err := a.MessageFromID(ctx, 77, 123)
	if err != nil {
		t.Fatalf("MessageFromID: %v", err)
	}
	if !got.Equal(chain) {
		t.Errorf("stored chain = %s", got.Display())
	}
	if len(fa.callsTo("messageFromId")) != 0 {
		t.Error("store hit should not reach the gateway")
	}
}

func TestSendFriendMessageRejectsMention(t *testing.T) {
	fa := newFakeAdapter(map[string]string{"sendFriendMessage": `{"code":0,"messageId":1}`})
	a := newTestApp(t, fa, false)

	_, err := a.SendFriendMessage(context.Background(), 1, message.MustChain(message.AtAll{}))
	if !errors.Is(err, message.ErrInvalidContext) {
		t.Fatalf("err = %v, want ErrInvalidContext", err)
	}
	if len(fa.callsTo("sendFriendMessage")) != 0 {
		t.Error("a chain failing Prepare must not be sent")
	}
}

func TestSendMessageRoutes(t *testing.T) {
	fa := newFakeAdapter(map[string]string{
		"sendFriendMessage": `{"code":0,"messageId":1}`,
		"sendGroupMessage":  `{"code":0,"messageId":2}`,
		"sendTempMessage":   `{"code":0,"messageId":3}`,
	})
	a := newTestApp(t, fa, false)
	ctx := context.Background()
	chain := message.MustChain("x")
	member := domain.Member{ID: 8, Group: domain.Group{ID: 80}}

	tests := []struct {
		target any
		want   int64
	}{
		{domain.Friend{ID: 1}, 1},
		{domain.Group{ID: 2}, 2},
		{member, 3},
		{event.GroupMessage{Sender: member}, 2},
		{event.TempMessage{Sender: member}, 3},
	}
	for _, tt := range tests {
		id, err := a.SendMessage(ctx, tt.target, chain)
		if err != nil {
			t.Fatalf("SendMessage(%T): %v", tt.target, err)
		}
		if id != tt.want {
			t.Errorf("SendMessage(%T) = %d, want %d", tt.target, id, tt.want)
		}
	}

	temp := fa.callsTo("sendTempMessage")[0].params
	if temp["qq"] != float64(8) || temp["group"] != float64(80) {
		t.Errorf("temp params = %v", temp)
	}
	if _, err := a.SendMessage(ctx, "nobody", chain); !errors.Is(err, ErrUnsupportedTarget) {
		t.Errorf("err = %v, want ErrUnsupportedTarget", err)
	}
}

func TestReplyQuotesSource(t *testing.T) {
	fa := newFakeAdapter(map[string]string{"sendFriendMessage": `{"code":0,"messageId":2}`})
	a := newTestApp(t, fa, false)
	ev := event.FriendMessage{
		Sender: domain.Friend{ID: 4},
		Chain:  message.MustChain(message.Source{ID: 55, Time: time.Unix(10, 0)}, "hi"),
	}
	if _, err := a.Reply(context.Background(), ev, message.MustChain("yo")); err != nil {
		t.Fatal(err)
	}
	p := fa.callsTo("sendFriendMessage")[0].params
	if p["quote"] != float64(55) || p["target"] != float64(4) {
		t.Errorf("params = %v", p)
	}
}

func TestQueries(t *testing.T) {
	fa := newFakeAdapter(map[string]string{
		"about":      `{"version":"2.9.2"}`,
		"friendList": `[{"id":1,"nickname":"a","remark":""}]`,
		"groupList":  `[{"id":2,"name":"g","permission":"OWNER"}]`,
		"memberList": `[{"id":3,"memberName":"m","permission":"MEMBER","group":{"id":2,"name":"g","permission":"OWNER"}}]`,
		"recall":     `{"code":0,"msg":"success"}`,
		"messageFromId": `{"type":"FriendMessage","sender":{"id":1,"nickname":"a","remark":""},` +
			`"messageChain":[{"type":"Source","id":5,"time":1},{"type":"Plain","text":"old"}]}`,
	})
	a := newTestApp(t, fa, false)
	ctx := context.Background()

	if v, err := a.Version(ctx); err != nil || v != "2.9.2" {
		t.Errorf("Version = %q, %v", v, err)
	}
	if fs, err := a.FriendList(ctx); err != nil || len(fs) != 1 || fs[0].Nickname != "a" {
		t.Errorf("FriendList = %v, %v", fs, err)
	}
	if gs, err := a.GroupList(ctx); err != nil || len(gs) != 1 || gs[0].Permission != domain.PermOwner {
		t.Errorf("GroupList = %v, %v", gs, err)
	}
	ms, err := a.MemberList(ctx, 2)
	if err != nil || len(ms) != 1 || ms[0].Group.ID != 2 {
		t.Errorf("MemberList = %v, %v", ms, err)
	}
	if p := fa.callsTo("memberList")[0].params; p["target"] != float64(2) {
		t.Errorf("memberList params = %v", p)
	}
	if err := a.Recall(ctx, 5, 1); err != nil {
		t.Errorf("Recall: %v", err)
	}

	chain, err := a.MessageFromID(ctx, 5, 1)
	if err != nil {
		t.Fatalf("MessageFromID: %v", err)
	}
	if chain.Display() != "old" {
		t.Errorf("chain = %q", chain.Display())
	}
}

func TestLifecycleDispatchesEvents(t *testing.T) {
	fa := newFakeAdapter(nil)
	a := newTestApp(t, fa, true)

	launched := make(chan *App, 1)
	shutdown := make(chan struct{}, 1)
	got := make(chan string, 1)
	if _, err := a.On("ApplicationLaunched", func(app *App) { launched <- app }); err != nil {
		t.Fatal(err)
	}
	if _, err := a.On("ApplicationShutdown", func(event.ApplicationShutdown) { shutdown <- struct{}{} }); err != nil {
		t.Fatal(err)
	}
	if _, err := a.On("FriendMessage", func(chain *message.Chain, sender domain.Friend) {
		got <- chain.Display() + "/" + sender.Nickname
	}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Lifecycle(ctx) }()

	select {
	case app := <-launched:
		if app != a {
			t.Error("launched handler got a different app")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ApplicationLaunched not dispatched")
	}

	fa.inbox <- json.RawMessage(`{"type":"FriendMessage","sender":{"id":4,"nickname":"bob","remark":""},` +
		`"messageChain":[{"type":"Source","id":31,"time":100},{"type":"Plain","text":"ping"}]}`)
	fa.inbox <- json.RawMessage(`not json`)

	select {
	case s := <-got:
		if s != "ping/bob" {
			t.Errorf("handler saw %q", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("FriendMessage not dispatched")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Lifecycle = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Lifecycle did not return")
	}
	select {
	case <-shutdown:
	default:
		t.Error("ApplicationShutdown not dispatched before return")
	}
	if !fa.stopped {
		t.Error("adapter not stopped")
	}

	chain, err := a.MessageFromID(context.Background(), 31, 4)
	if err != nil || chain.Display() != "ping" {
		t.Errorf("inbound message not stored: %v, %v", chain, err)
	}
}

func TestLaunchTwice(t *testing.T) {
	a := newTestApp(t, newFakeAdapter(nil), false)
	ctx := context.Background()
	if err := a.Launch(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Launch(ctx); !errors.Is(err, ErrRunning) {
		t.Errorf("second Launch = %v, want ErrRunning", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := a.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestLifecycleReturnsAdapterFailure(t *testing.T) {
	fa := newFakeAdapter(nil)
	fa.startErr = errors.New("dial refused")
	a := newTestApp(t, fa, false)
	if err := a.Lifecycle(context.Background()); err == nil || err.Error() != "dial refused" {
		t.Errorf("Lifecycle = %v, want dial refused", err)
	}
}
