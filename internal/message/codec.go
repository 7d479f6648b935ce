package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

type decodeFunc func(raw []byte, obj map[string]json.RawMessage) (Element, error)

var decoders = map[string]decodeFunc{
	"Plain":      decodeAs[Plain],
	"Source":     decodeAs[Source],
	"Quote":      decodeAs[Quote],
	"At":         decodeAs[At],
	"AtAll":      decodeAs[AtAll],
	"Face":       decodeAs[Face],
	"Xml":        decodeAs[XML],
	"Json":       decodeAs[JSON],
	"App":        decodeAs[App],
	"Poke":       decodeAs[Poke],
	"Dice":       decodeAs[Dice],
	"MusicShare": decodeAs[MusicShare],
	"Forward":    decodeAs[Forward],
	"File":       decodeAs[File],
	"Image":      decodeAs[Image],
	"FlashImage": decodeAs[FlashImage],
	"Voice":      decodeAs[Voice],
}

// Kinds lists every element kind this package models.
func Kinds() []string {
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type extraSetter interface {
	setExtra(Fields)
}

type validator interface {
	validate() error
}

func decodeAs[T Element](raw []byte, obj map[string]json.RawMessage) (Element, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if val, ok := any(v).(validator); ok {
		if err := val.validate(); err != nil {
			return nil, err
		}
	}
	known := knownKeys(reflect.TypeOf(v))
	var extra Fields
	for k, fv := range obj {
		if k == "type" || known[k] {
			continue
		}
		if extra == nil {
			extra = make(Fields)
		}
		extra[k] = compact(fv)
	}
	if s, ok := any(&v).(extraSetter); ok {
		s.setExtra(extra)
	}
	return v, nil
}

// decodeRecord turns one wire record into an element. Kinds without a
// decoder come back as Unknown.
func decodeRecord(raw []byte) (Element, string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, "", fmt.Errorf("element record: %w", err)
	}
	typRaw, ok := obj["type"]
	if !ok {
		return nil, "", errors.New("element record has no type")
	}
	var kind string
	if err := json.Unmarshal(typRaw, &kind); err != nil || kind == "" {
		return nil, "", errors.New("element record has no usable type")
	}
	dec, ok := decoders[kind]
	if !ok {
		fields := make(Fields, len(obj))
		for k, v := range obj {
			if k != "type" {
				fields[k] = compact(v)
			}
		}
		return Unknown{Type: kind, Fields: fields}, kind, nil
	}
	elem, err := dec(raw, obj)
	if err != nil {
		return nil, kind, err
	}
	return elem, kind, nil
}

// encodeElement writes e as a wire record: "type" first, then the modelled
// fields, then extras in key order.
func encodeElement(e Element) ([]byte, error) {
	kind, err := json.Marshal(e.Kind())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(kind)

	var known map[string]bool
	if _, ok := e.(Unknown); !ok {
		body, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Kind(), err)
		}
		body = bytes.TrimSpace(body)
		if inner := body[1 : len(body)-1]; len(inner) > 0 {
			buf.WriteByte(',')
			buf.Write(inner)
		}
		known = knownKeys(reflect.TypeOf(e))
	}

	extra := e.extra()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if k != "type" && !known[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := extra[k]
		if len(v) == 0 {
			v = json.RawMessage("null")
		}
		name, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var knownCache sync.Map // reflect.Type -> map[string]bool

// knownKeys returns the wire keys a variant models, read from its json tags.
func knownKeys(t reflect.Type) map[string]bool {
	if v, ok := knownCache.Load(t); ok {
		return v.(map[string]bool)
	}
	keys := make(map[string]bool)
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		keys[name] = true
	}
	knownCache.Store(t, keys)
	return keys
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}
