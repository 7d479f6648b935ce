package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func allVariants() *Chain {
	ts := time.Unix(1700000000, 0)
	img, _ := NewImage(MediaSource{ID: "{A}.jpg", URL: "http://img"})
	voice, _ := NewVoice(MediaSource{Data: []byte("ogg")}, 4)
	return MustChain(
		Source{ID: 7, Time: ts},
		Quote{ID: 6, GroupID: 1, SenderID: 2, TargetID: 1, Origin: MustChain("quoted")},
		Plain{Text: "hi"},
		At{Target: 10, Name: "@x"},
		AtAll{},
		Face{FaceID: 1, Name: "smile"},
		XML{XML: "<msg/>"},
		JSON{Value: `{"k":"v"}`},
		App{Content: "{}"},
		Poke{Name: PokeChuoYiChuo},
		Dice{Value: 4},
		MusicShare{MusicKind: "NeteaseCloudMusic", Title: "t", MusicURL: "http://m"},
		Forward{Nodes: []ForwardNode{{SenderID: 3, Time: ts, SenderName: "n", Chain: MustChain("fwd"), MessageID: 9}}},
		File{ID: "/f", Name: "f.txt", Size: 12},
		img,
		img.Flash(),
		voice,
		Unknown{Type: "MarketFace", Fields: Fields{"id": json.RawMessage(`5`)}},
	)
}

func TestChainRoundTrip(t *testing.T) {
	orig := allVariants()
	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Chain
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !orig.Equal(&back) {
		t.Fatalf("round trip mismatch\n got: %s\norig: %s", mustJSON(t, &back), data)
	}
}

func TestRoundTripTruncatesToSeconds(t *testing.T) {
	ts := time.Unix(1700000000, 999_000_000)
	data, _ := json.Marshal(MustChain(Source{ID: 1, Time: ts}))
	var back Chain
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	src, _ := GetFirst[Source](&back)
	if !src.Time.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("time = %v", src.Time)
	}
}

func TestEncodeWireShape(t *testing.T) {
	data := mustJSON(t, MustChain(Source{ID: 1, Time: time.Unix(10, 0)}, JSON{Value: "{}"}))
	want := `[{"type":"Source","id":1,"time":10},{"type":"Json","json":"{}"}]`
	if data != want {
		t.Errorf("wire = %s\nwant %s", data, want)
	}
}

func TestExtraFieldsPreserved(t *testing.T) {
	raw := `[{"type":"Plain","text":"a","styled":{"bold":true}}]`
	var c Chain
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p, _ := GetFirst[Plain](&c)
	if string(p.Extra["styled"]) != `{"bold":true}` {
		t.Fatalf("extra = %v", p.Extra)
	}
	if got := mustJSON(t, &c); got != raw {
		t.Errorf("re-encoded = %s", got)
	}
}

func TestJSONElementAcceptsInlineObject(t *testing.T) {
	var c Chain
	if err := json.Unmarshal([]byte(`[{"type":"Json","json":{"a": 1}}]`), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	j, _ := GetFirst[JSON](&c)
	if j.Value != `{"a":1}` {
		t.Errorf("value = %s", j.Value)
	}
}

func TestUnmarshalRejectsObject(t *testing.T) {
	var c Chain
	if err := json.Unmarshal([]byte(`{"type":"Plain"}`), &c); err == nil {
		t.Fatal("expected error for non-array chain")
	}
}

func TestKinds(t *testing.T) {
	kinds := strings.Join(Kinds(), ",")
	for _, k := range []string{"Plain", "Xml", "Json", "FlashImage"} {
		if !strings.Contains(kinds, k) {
			t.Errorf("kinds missing %s: %s", k, kinds)
		}
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
