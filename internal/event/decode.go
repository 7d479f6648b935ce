package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"argon/internal/domain"
	"argon/internal/message"
)

// ErrEventType is returned by As when the payload holds a different event type.
var ErrEventType = errors.New("event: unexpected event type")

type decodeFunc func(kind string, raw []byte, obj map[string]json.RawMessage) (domain.Event, error)

var decoders = map[string]decodeFunc{
	"FriendMessage":          decodeAs[FriendMessage],
	"GroupMessage":           decodeAs[GroupMessage],
	"TempMessage":            decodeAs[TempMessage],
	"StrangerMessage":        decodeAs[StrangerMessage],
	"OtherClientMessage":     decodeAs[OtherClientMessage],
	"FriendRecallEvent":      decodeAs[FriendRecallEvent],
	"GroupRecallEvent":       decodeAs[GroupRecallEvent],
	"NudgeEvent":             decodeAs[NudgeEvent],
	"MemberJoinEvent":        decodeAs[MemberJoinEvent],
	"BotOnlineEvent":         decodeBot,
	"BotOfflineEventActive":  decodeBot,
	"BotOfflineEventForce":   decodeBot,
	"BotOfflineEventDropped": decodeBot,
	"BotReloginEvent":        decodeBot,
}

// Types lists the event types Decode maps to a concrete Go type.
func Types() []string {
	out := make([]string, 0, len(decoders))
	for k := range decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Decode turns one gateway payload into an event. Types without a Go type
// come back as Unknown with every field kept.
func Decode(raw json.RawMessage) (domain.Event, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var kind string
	if t, ok := obj["type"]; ok {
		if err := json.Unmarshal(t, &kind); err != nil {
			return nil, fmt.Errorf("decode event type: %w", err)
		}
	}
	if kind == "" {
		return nil, errors.New("decode event: missing type")
	}
	dec, ok := decoders[kind]
	if !ok {
		fields := make(message.Fields, len(obj))
		for k, v := range obj {
			if k != "type" {
				fields[k] = compact(v)
			}
		}
		return Unknown{Type: kind, Fields: fields}, nil
	}
	ev, err := dec(kind, raw, obj)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}

// As decodes raw and requires the result to be a T.
func As[T domain.Event](raw json.RawMessage) (T, error) {
	var zero T
	ev, err := Decode(raw)
	if err != nil {
		return zero, err
	}
	v, ok := ev.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %s, want %T", ErrEventType, ev.EventType(), zero)
	}
	return v, nil
}

type extraSetter interface {
	setExtra(message.Fields)
}

func decodeAs[T domain.Event](_ string, raw []byte, obj map[string]json.RawMessage) (domain.Event, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if s, ok := any(&v).(extraSetter); ok {
		s.setExtra(extraFields(reflect.TypeOf(v), obj))
	}
	return v, nil
}

func decodeBot(kind string, raw []byte, obj map[string]json.RawMessage) (domain.Event, error) {
	ev, err := decodeAs[BotEvent](kind, raw, obj)
	if err != nil {
		return nil, err
	}
	b := ev.(BotEvent)
	b.Kind = kind
	return b, nil
}

func extraFields(t reflect.Type, obj map[string]json.RawMessage) message.Fields {
	known := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			known[name] = true
		}
	}
	var extra message.Fields
	for k, v := range obj {
		if k == "type" || known[k] {
			continue
		}
		if extra == nil {
			extra = make(message.Fields)
		}
		extra[k] = compact(v)
	}
	return extra
}

func compact(raw json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return append(json.RawMessage(nil), raw...)
	}
	return buf.Bytes()
}
