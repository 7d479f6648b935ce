package message

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"argon/internal/domain"
	"argon/internal/scope"
)

func TestNewChainCoercion(t *testing.T) {
	c, err := NewChain(
		"hello ",
		&At{Target: 1, Name: "a"},
		[]any{" and ", []Element{AtAll{}}},
		MustChain(Face{FaceID: 2}),
		map[string]any{"type": "Dice", "value": 3},
		json.RawMessage(`[{"type":"Plain","text":"!"}]`),
	)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	if c.Len() != 7 {
		t.Fatalf("len = %d, want 7: %v", c.Len(), c.Elements())
	}
	if _, ok := c.At(1).(At); !ok {
		t.Errorf("pointer element not dereferenced: %T", c.At(1))
	}
	want := "hello [At:a(1)] and [AtAll][Face:2][Dice:3]!"
	if got := c.Display(); got != want {
		t.Errorf("display = %q, want %q", got, want)
	}
}

func TestDisplayIsConcatenation(t *testing.T) {
	items := []any{"x", At{Target: 5}, Image{}, "y", Poke{Name: PokeRose}}
	c := MustChain(items...)
	var want string
	for _, e := range c.Elements() {
		want += e.Display()
	}
	if c.Display() != want {
		t.Errorf("display = %q, want %q", c.Display(), want)
	}
}

func TestNewChainDecodeErrorIndex(t *testing.T) {
	_, err := NewChain("a", "b", map[string]any{"text": "no type"})
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Index != 2 {
		t.Errorf("index = %d, want 2", de.Index)
	}
	if !errors.Is(err, ErrDecode) {
		t.Error("DecodeError should match ErrDecode")
	}

	_, err = NewChain(map[string]any{"type": "Poke", "name": "NotAPoke"})
	if !errors.As(err, &de) || de.Kind != "Poke" {
		t.Fatalf("bad poke: %v", err)
	}

	if _, err := NewChain(42); !errors.Is(err, ErrDecode) {
		t.Errorf("int item: expected ErrDecode, got %v", err)
	}
}

func TestUnknownRecordKept(t *testing.T) {
	c, err := NewChain(map[string]any{"type": "MarketFace", "id": 9})
	if err != nil {
		t.Fatalf("unknown kind should not fail: %v", err)
	}
	u, err := GetFirst[Unknown](c)
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	if u.Type != "MarketFace" || string(u.Fields["id"]) != "9" {
		t.Errorf("unknown = %+v", u)
	}
}

func TestGetFirstSource(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	c := MustChain(Source{ID: 1, Time: ts}, "hi")
	src, err := GetFirst[Source](c)
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	if src.ID != 1 {
		t.Errorf("id = %d", src.ID)
	}

	_, err = GetFirst[Source](MustChain("hi"))
	if !errors.Is(err, ErrNoSuchElement) {
		t.Fatalf("expected ErrNoSuchElement, got %v", err)
	}
	if Has[Source](MustChain("hi")) {
		t.Error("Has should be false")
	}
	if n := len(Get[Plain](MustChain("a", AtAll{}, "b"))); n != 2 {
		t.Errorf("Get[Plain] = %d, want 2", n)
	}
}

func TestMergeCopy(t *testing.T) {
	orig := MustChain(Plain{Text: "a"}, Plain{Text: "b"}, AtAll{}, Plain{Text: "c"}, Plain{Text: "d"})
	merged := orig.Merge(true)

	if orig.Len() != 5 {
		t.Errorf("copy merge mutated receiver: len %d", orig.Len())
	}
	want := MustChain(Plain{Text: "ab"}, AtAll{}, Plain{Text: "cd"})
	if !merged.Equal(want) {
		t.Errorf("merged = %v", merged.Elements())
	}
}

func TestMergeInPlace(t *testing.T) {
	c := MustChain(Plain{Text: "a"}, Plain{Text: "b"})
	got := c.Merge(false)
	if got != c {
		t.Error("in-place merge should return the receiver")
	}
	if !c.Equal(MustChain(Plain{Text: "ab"})) {
		t.Errorf("merged = %v", c.Elements())
	}
}

func TestMergeNilChain(t *testing.T) {
	var c *Chain
	for _, copyChain := range []bool{true, false} {
		got := c.Merge(copyChain)
		if got == nil || got.Len() != 0 {
			t.Errorf("Merge(%v) on nil = %v, want empty chain", copyChain, got)
		}
	}
}

func TestChainKey(t *testing.T) {
	a := MustChain("hi ", At{Target: 1, Name: "bob"}, Face{FaceID: 14})
	b := MustChain("hi ", At{Target: 1, Name: "bob"}, Face{FaceID: 14})
	c := MustChain("hi ", At{Target: 2, Name: "bob"}, Face{FaceID: 14})

	if a.Key() != b.Key() {
		t.Errorf("equal chains have keys %q and %q", a.Key(), b.Key())
	}
	if a.Key() == c.Key() {
		t.Error("different chains share a key")
	}
	seen := map[string]int{a.Key(): 1}
	if seen[b.Key()] != 1 {
		t.Error("equal chain not found by key")
	}
	var empty *Chain
	if empty.Key() != (&Chain{}).Key() {
		t.Error("nil and empty chains should share a key")
	}
}

func TestRepeat(t *testing.T) {
	c := MustChain("a", AtAll{})

	zero, err := c.Repeat(0)
	if err != nil || !zero.Equal(MustChain()) {
		t.Fatalf("repeat 0 = %v, %v", zero, err)
	}

	two, err := c.Repeat(2)
	if err != nil {
		t.Fatalf("repeat 2: %v", err)
	}
	if !two.Equal(MustChain("a", AtAll{}, "a", AtAll{})) {
		t.Errorf("repeat 2 = %v", two.Elements())
	}

	if _, err := c.Repeat(-1); !errors.Is(err, ErrArgument) {
		t.Errorf("repeat -1: expected ErrArgument, got %v", err)
	}
}

func TestConcatAndContains(t *testing.T) {
	a := MustChain("x")
	b, err := a.Concat(MustChain(Face{FaceID: 1}), Dice{Value: 2})
	if err != nil {
		t.Fatalf("concat: %v", err)
	}
	if a.Len() != 1 {
		t.Error("concat mutated receiver")
	}
	if b.Len() != 3 {
		t.Fatalf("len = %d", b.Len())
	}
	if !b.Contains(Face{FaceID: 1}) || !b.Contains(&Dice{Value: 2}) {
		t.Error("contains failed")
	}
	if b.Contains(Face{FaceID: 2}) {
		t.Error("contains matched a different face")
	}
}

func TestSliceClamps(t *testing.T) {
	c := MustChain("a", "b", "c")
	if got := c.Slice(1, 10).Display(); got != "bc" {
		t.Errorf("slice = %q", got)
	}
	if got := c.Slice(-3, 1).Display(); got != "a" {
		t.Errorf("slice = %q", got)
	}
}

func TestChainPrepareStopsAtFirstFailure(t *testing.T) {
	c := MustChain("hi", At{Target: 1}, AtAll{})
	err := scope.EnterMessageSendContext(context.Background(), domain.UploadFriend, func(ctx context.Context) error {
		return c.Prepare(ctx)
	})
	if !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext, got %v", err)
	}
}

func TestLoadTemplate(t *testing.T) {
	c, err := LoadTemplate([]byte(`
- "hello "
- type: At
  target: 10001
  display: bob
- type: Face
  faceId: 14
`))
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	if got := c.Display(); got != "hello [At:bob(10001)][Face:14]" {
		t.Errorf("display = %q", got)
	}

	if _, err := LoadTemplate([]byte("42")); !errors.Is(err, ErrArgument) {
		t.Errorf("scalar template: expected ErrArgument, got %v", err)
	}
}
