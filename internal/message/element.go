// Package message implements the message model of the gateway: typed
// elements, the ordered chains they form, and the JSON wire format both use.
package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"argon/internal/domain"
	"argon/internal/scope"
)

// Element is one atomic unit of a message. The variant set is closed: every
// implementation lives in this package.
type Element interface {
	// Kind is the wire discriminant, persisted as "type".
	Kind() string
	// Display is a short human-readable placeholder.
	Display() string
	// Prepare runs right before a chain holding the element is sent.
	Prepare(ctx context.Context) error

	extra() Fields
	equal(o Element) bool
}

// Fields holds wire keys an element does not model. They are kept verbatim
// and written back on encode.
type Fields map[string]json.RawMessage

func (f Fields) Equal(o Fields) bool {
	if len(f) != len(o) {
		return false
	}
	for k, v := range f {
		w, ok := o[k]
		if !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}

// Plain is a run of text.
type Plain struct {
	Text  string `json:"text"`
	Extra Fields `json:"-"`
}

func (Plain) Kind() string { return "Plain" }
func (p Plain) Display() string { return p.Text }
func (Plain) Prepare(context.Context) error { return nil }
func (p Plain) extra() Fields { return p.Extra }
func (p *Plain) setExtra(f Fields) { p.Extra = f }

func (p Plain) equal(o Element) bool {
	q, ok := o.(Plain)
	return ok && p.Text == q.Text && p.Extra.Equal(q.Extra)
}

// At mentions one user. Only valid in group messages.
type At struct {
	Target int64  `json:"target"`
	Name   string `json:"display,omitempty"`
	Extra  Fields `json:"-"`
}

func (At) Kind() string { return "At" }
func (a At) Display() string { return fmt.Sprintf("[At:%s(%d)]", a.Name, a.Target) }
func (a At) extra() Fields { return a.Extra }
func (a *At) setExtra(f Fields) { a.Extra = f }

func (a At) Prepare(ctx context.Context) error {
	return requireGroup(ctx, a.Kind())
}

func (a At) equal(o Element) bool {
	b, ok := o.(At)
	return ok && a.Target == b.Target && a.Name == b.Name && a.Extra.Equal(b.Extra)
}

// AtAll mentions every member of a group.
type AtAll struct {
	Extra Fields `json:"-"`
}

func (AtAll) Kind() string { return "AtAll" }
func (AtAll) Display() string { return "[AtAll]" }
func (a AtAll) extra() Fields { return a.Extra }
func (a *AtAll) setExtra(f Fields) { a.Extra = f }

func (a AtAll) Prepare(ctx context.Context) error {
	return requireGroup(ctx, a.Kind())
}

func (a AtAll) equal(o Element) bool {
	b, ok := o.(AtAll)
	return ok && a.Extra.Equal(b.Extra)
}

// requireGroup fails when an upload method is bound and it is not Group.
// An unbound method passes.
func requireGroup(ctx context.Context, kind string) error {
	m, ok := scope.UploadMethod.Get(ctx)
	if !ok || m == domain.UploadGroup {
		return nil
	}
	return fmt.Errorf("%w: %s cannot be used with upload method %q", ErrInvalidContext, kind, m)
}

// Face is a built-in emoticon.
type Face struct {
	FaceID int64  `json:"faceId"`
	Name   string `json:"name,omitempty"`
	Extra  Fields `json:"-"`
}

func (Face) Kind() string { return "Face" }
func (f Face) Display() string { return fmt.Sprintf("[Face:%d]", f.FaceID) }
func (Face) Prepare(context.Context) error { return nil }
func (f Face) extra() Fields { return f.Extra }
func (f *Face) setExtra(x Fields) { f.Extra = x }

func (f Face) equal(o Element) bool {
	g, ok := o.(Face)
	return ok && f.FaceID == g.FaceID && f.Name == g.Name && f.Extra.Equal(g.Extra)
}

// XML is a raw XML card.
type XML struct {
	XML   string `json:"xml"`
	Extra Fields `json:"-"`
}

func (XML) Kind() string { return "Xml" }
func (XML) Display() string { return "[XML]" }
func (XML) Prepare(context.Context) error { return nil }
func (x XML) extra() Fields { return x.Extra }
func (x *XML) setExtra(f Fields) { x.Extra = f }

func (x XML) equal(o Element) bool {
	y, ok := o.(XML)
	return ok && x.XML == y.XML && x.Extra.Equal(y.Extra)
}

// JSON is a raw JSON card. Value is the serialized payload; it is written
// under the "json" key.
type JSON struct {
	Value string `json:"json"`
	Extra Fields `json:"-"`
}

// NewJSON builds a JSON element. Strings are taken as already serialized;
// anything else is marshalled.
func NewJSON(v any) (JSON, error) {
	switch p := v.(type) {
	case string:
		return JSON{Value: p}, nil
	case json.RawMessage:
		return JSON{Value: string(p)}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return JSON{}, fmt.Errorf("%w: json payload: %v", ErrArgument, err)
	}
	return JSON{Value: string(data)}, nil
}

func (JSON) Kind() string { return "Json" }
func (JSON) Display() string { return "[JSON]" }
func (JSON) Prepare(context.Context) error { return nil }
func (j JSON) extra() Fields { return j.Extra }
func (j *JSON) setExtra(f Fields) { j.Extra = f }

func (j JSON) equal(o Element) bool {
	k, ok := o.(JSON)
	return ok && j.Value == k.Value && j.Extra.Equal(k.Extra)
}

// UnmarshalJSON accepts the payload either as a string or inline.
func (j *JSON) UnmarshalJSON(data []byte) error {
	var w struct {
		Value json.RawMessage `json:"json"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	j.Value = ""
	if len(w.Value) == 0 || string(w.Value) == "null" {
		return nil
	}
	if w.Value[0] == '"' {
		return json.Unmarshal(w.Value, &j.Value)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, w.Value); err != nil {
		return err
	}
	j.Value = buf.String()
	return nil
}

// App is a mini-program card.
type App struct {
	Content string `json:"content"`
	Extra   Fields `json:"-"`
}

func (App) Kind() string { return "App" }
func (App) Display() string { return "[App]" }
func (App) Prepare(context.Context) error { return nil }
func (a App) extra() Fields { return a.Extra }
func (a *App) setExtra(f Fields) { a.Extra = f }

func (a App) equal(o Element) bool {
	b, ok := o.(App)
	return ok && a.Content == b.Content && a.Extra.Equal(b.Extra)
}

// PokeMethod names a poke animation.
type PokeMethod string

const (
	PokeChuoYiChuo  PokeMethod = "ChuoYiChuo"
	PokeBiXin       PokeMethod = "BiXin"
	PokeDianZan     PokeMethod = "DianZan"
	PokeXinSui      PokeMethod = "XinSui"
	PokeLiuLiuLiu   PokeMethod = "LiuLiuLiu"
	PokeFangDaZhao  PokeMethod = "FangDaZhao"
	PokeBaoBeiQiu   PokeMethod = "BaoBeiQiu"
	PokeRose        PokeMethod = "Rose"
	PokeZhaoHuanShu PokeMethod = "ZhaoHuanShu"
	PokeRangNiPi    PokeMethod = "RangNiPi"
	PokeJeiYin      PokeMethod = "JeiYin"
	PokeShouLei     PokeMethod = "ShouLei"
	PokeGouYin      PokeMethod = "GouYin"
	PokeZhuaYiXia   PokeMethod = "ZhuaYiXia"
	PokeSuiPing     PokeMethod = "SuiPing"
	PokeQiaoMen     PokeMethod = "QiaoMen"
)

var pokeMethods = map[PokeMethod]bool{
	PokeChuoYiChuo: true, PokeBiXin: true, PokeDianZan: true, PokeXinSui: true,
	PokeLiuLiuLiu: true, PokeFangDaZhao: true, PokeBaoBeiQiu: true, PokeRose: true,
	PokeZhaoHuanShu: true, PokeRangNiPi: true, PokeJeiYin: true, PokeShouLei: true,
	PokeGouYin: true, PokeZhuaYiXia: true, PokeSuiPing: true, PokeQiaoMen: true,
}

func (m PokeMethod) Valid() bool { return pokeMethods[m] }

// Poke is a poke animation.
type Poke struct {
	Name  PokeMethod `json:"name"`
	Extra Fields     `json:"-"`
}

func (Poke) Kind() string { return "Poke" }
func (p Poke) Display() string { return fmt.Sprintf("[Poke:%s]", p.Name) }
func (Poke) Prepare(context.Context) error { return nil }
func (p Poke) extra() Fields { return p.Extra }
func (p *Poke) setExtra(f Fields) { p.Extra = f }

func (p Poke) validate() error {
	if !p.Name.Valid() {
		return fmt.Errorf("unknown poke method %q", p.Name)
	}
	return nil
}

func (p Poke) equal(o Element) bool {
	q, ok := o.(Poke)
	return ok && p.Name == q.Name && p.Extra.Equal(q.Extra)
}

// Dice is a die roll.
type Dice struct {
	Value int    `json:"value"`
	Extra Fields `json:"-"`
}

func (Dice) Kind() string { return "Dice" }
func (d Dice) Display() string { return fmt.Sprintf("[Dice:%d]", d.Value) }
func (Dice) Prepare(context.Context) error { return nil }
func (d Dice) extra() Fields { return d.Extra }
func (d *Dice) setExtra(f Fields) { d.Extra = f }

func (d Dice) equal(o Element) bool {
	e, ok := o.(Dice)
	return ok && d.Value == e.Value && d.Extra.Equal(e.Extra)
}

// MusicShare is a music card.
type MusicShare struct {
	MusicKind  string `json:"kind,omitempty"`
	Title      string `json:"title,omitempty"`
	Summary    string `json:"summary,omitempty"`
	JumpURL    string `json:"jumpUrl,omitempty"`
	PictureURL string `json:"pictureUrl,omitempty"`
	MusicURL   string `json:"musicUrl,omitempty"`
	Brief      string `json:"brief,omitempty"`
	Extra      Fields `json:"-"`
}

func (MusicShare) Kind() string { return "MusicShare" }
func (m MusicShare) Display() string { return fmt.Sprintf("[MusicShare:%s]", m.Title) }
func (MusicShare) Prepare(context.Context) error { return nil }
func (m MusicShare) extra() Fields { return m.Extra }
func (m *MusicShare) setExtra(f Fields) { m.Extra = f }

func (m MusicShare) equal(o Element) bool {
	n, ok := o.(MusicShare)
	return ok && m.MusicKind == n.MusicKind && m.Title == n.Title && m.Summary == n.Summary &&
		m.JumpURL == n.JumpURL && m.PictureURL == n.PictureURL && m.MusicURL == n.MusicURL &&
		m.Brief == n.Brief && m.Extra.Equal(n.Extra)
}

// File is a file already stored on the gateway side.
type File struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Extra Fields `json:"-"`
}

func (File) Kind() string { return "File" }
func (f File) Display() string { return fmt.Sprintf("[File:%s]", f.Name) }
func (File) Prepare(context.Context) error { return nil }
func (f File) extra() Fields { return f.Extra }
func (f *File) setExtra(x Fields) { f.Extra = x }

func (f File) equal(o Element) bool {
	g, ok := o.(File)
	return ok && f.ID == g.ID && f.Name == g.Name && f.Size == g.Size && f.Extra.Equal(g.Extra)
}

// Unknown carries an element kind this package does not model, so that it
// survives a decode/encode round trip.
type Unknown struct {
	Type   string
	Fields Fields
}

func (u Unknown) Kind() string { return u.Type }
func (Unknown) Display() string { return "" }
func (Unknown) Prepare(context.Context) error { return nil }
func (u Unknown) extra() Fields { return u.Fields }

func (u Unknown) equal(o Element) bool {
	v, ok := o.(Unknown)
	return ok && u.Type == v.Type && u.Fields.Equal(v.Fields)
}
