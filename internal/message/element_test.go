package message

import (
	"context"
	"errors"
	"testing"

	"argon/internal/domain"
	"argon/internal/scope"
)

func TestElementDisplay(t *testing.T) {
	cases := []struct {
		elem Element
		want string
	}{
		{Plain{Text: "hi"}, "hi"},
		{At{Target: 123, Name: "bob"}, "[At:bob(123)]"},
		{AtAll{}, "[AtAll]"},
		{Face{FaceID: 14}, "[Face:14]"},
		{XML{XML: "<a/>"}, "[XML]"},
		{JSON{Value: "{}"}, "[JSON]"},
		{App{Content: "x"}, "[App]"},
		{Poke{Name: PokeBiXin}, "[Poke:BiXin]"},
		{Dice{Value: 6}, "[Dice:6]"},
		{MusicShare{Title: "song"}, "[MusicShare:song]"},
		{Forward{Nodes: make([]ForwardNode, 2)}, "[Forward:2 messages]"},
		{File{Name: "a.txt"}, "[File:a.txt]"},
		{Image{}, "[Image]"},
		{FlashImage{}, "[FlashImage]"},
		{Voice{}, "[Voice]"},
		{Source{ID: 1}, ""},
		{Quote{ID: 1}, ""},
		{Unknown{Type: "MarketFace"}, ""},
	}
	for _, c := range cases {
		if got := c.elem.Display(); got != c.want {
			t.Errorf("%s display = %q, want %q", c.elem.Kind(), got, c.want)
		}
	}
}

func TestMentionPrepareUploadMethod(t *testing.T) {
	at := At{Target: 123}

	if err := at.Prepare(context.Background()); err != nil {
		t.Fatalf("unbound method: %v", err)
	}

	err := scope.EnterMessageSendContext(context.Background(), domain.UploadFriend, func(ctx context.Context) error {
		return at.Prepare(ctx)
	})
	if !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("friend method: expected ErrInvalidContext, got %v", err)
	}

	err = scope.EnterMessageSendContext(context.Background(), domain.UploadGroup, func(ctx context.Context) error {
		return at.Prepare(ctx)
	})
	if err != nil {
		t.Fatalf("group method: %v", err)
	}
}

func TestAtAllPrepareTemp(t *testing.T) {
	err := scope.EnterMessageSendContext(context.Background(), domain.UploadTemp, func(ctx context.Context) error {
		return AtAll{}.Prepare(ctx)
	})
	if !errors.Is(err, ErrInvalidContext) {
		t.Fatalf("expected ErrInvalidContext, got %v", err)
	}
}

func TestNewImageExclusive(t *testing.T) {
	_, err := NewImage(MediaSource{Base64: "AA==", Data: []byte{0}})
	if !errors.Is(err, ErrArgument) {
		t.Fatalf("expected ErrArgument, got %v", err)
	}
	if _, err := NewVoice(MediaSource{Base64: "AA==", Data: []byte{0}}, 3); !errors.Is(err, ErrArgument) {
		t.Fatalf("voice: expected ErrArgument, got %v", err)
	}
}

func TestNewImageEncodesData(t *testing.T) {
	img, err := NewImage(MediaSource{Data: []byte{0}})
	if err != nil {
		t.Fatalf("new image: %v", err)
	}
	if img.Base64 != "AA==" {
		t.Errorf("base64 = %q, want AA==", img.Base64)
	}
}

func TestFlashImageConversion(t *testing.T) {
	img := Image{ImageID: "{abc}.jpg", URL: "http://x/y"}
	flash := img.Flash()
	if flash.Kind() != "FlashImage" {
		t.Fatalf("kind = %s", flash.Kind())
	}
	if flash.ImageID != img.ImageID || flash.URL != img.URL {
		t.Errorf("fields not copied: %+v", flash)
	}
	back := flash.Normal()
	if !back.equal(img) {
		t.Errorf("round trip mismatch: %+v", back)
	}
	if flash.equal(img) {
		t.Error("flash image must not equal the plain image")
	}
}

func TestNewJSON(t *testing.T) {
	j, err := NewJSON(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("new json: %v", err)
	}
	if j.Value != `{"a":1}` {
		t.Errorf("value = %s", j.Value)
	}
	s, _ := NewJSON(`{"raw":true}`)
	if s.Value != `{"raw":true}` {
		t.Errorf("string value = %s", s.Value)
	}
}

func TestPokeMethodValid(t *testing.T) {
	if !PokeQiaoMen.Valid() {
		t.Error("QiaoMen should be valid")
	}
	if PokeMethod("Nope").Valid() {
		t.Error("unknown method should be invalid")
	}
}
