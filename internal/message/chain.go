package message

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Chain is an ordered sequence of elements. Operations that change the
// sequence return a new chain, except Merge(false).
type Chain struct {
	elems []Element
}

// NewChain coerces items into a chain. Accepted items are elements (values or
// pointers), strings (become Plain), chains and slices of them (spliced in),
// wire records as map[string]any or json.RawMessage, and []any of any of these.
// A failure reports the chain index it happened at as a *DecodeError.
func NewChain(items ...any) (*Chain, error) {
	c := &Chain{}
	if err := c.appendItems(items); err != nil {
		return nil, err
	}
	return c, nil
}

// MustChain is NewChain for literals known to be valid.
func MustChain(items ...any) *Chain {
	c, err := NewChain(items...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Chain) appendItems(items []any) error {
	for _, it := range items {
		if err := c.appendItem(it); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chain) appendItem(it any) error {
	switch v := it.(type) {
	case nil:
		return c.fail("", errors.New("nil item"))
	case string:
		c.elems = append(c.elems, Plain{Text: v})
	case *Chain:
		if v != nil {
			c.elems = append(c.elems, v.elems...)
		}
	case Element:
		e, ok := normalize(v)
		if !ok {
			return c.fail("", fmt.Errorf("nil %T", v))
		}
		c.elems = append(c.elems, e)
	case []Element:
		for _, e := range v {
			if err := c.appendItem(e); err != nil {
				return err
			}
		}
	case []string:
		for _, s := range v {
			c.elems = append(c.elems, Plain{Text: s})
		}
	case []any:
		return c.appendItems(v)
	case map[string]any:
		raw, err := json.Marshal(v)
		if err != nil {
			return c.fail("", err)
		}
		return c.appendRecord(raw)
	case json.RawMessage:
		return c.appendRaw(v)
	default:
		return c.fail("", fmt.Errorf("cannot use %T as a message element", it))
	}
	return nil
}

// appendRaw accepts a JSON array of records, a single record or a string.
func (c *Chain) appendRaw(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return c.fail("", errors.New("empty JSON"))
	}
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return c.fail("", err)
		}
		for _, item := range items {
			if err := c.appendRaw(item); err != nil {
				return err
			}
		}
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return c.fail("", err)
		}
		c.elems = append(c.elems, Plain{Text: s})
		return nil
	}
	return c.appendRecord(raw)
}

func (c *Chain) appendRecord(raw []byte) error {
	e, kind, err := decodeRecord(raw)
	if err != nil {
		return c.fail(kind, err)
	}
	c.elems = append(c.elems, e)
	return nil
}

func (c *Chain) fail(kind string, err error) error {
	return &DecodeError{Index: len(c.elems), Kind: kind, Err: err}
}

// normalize dereferences pointer elements so chains only hold values.
func normalize(e Element) (Element, bool) {
	rv := reflect.ValueOf(e)
	if rv.Kind() != reflect.Pointer {
		return e, true
	}
	if rv.IsNil() {
		return nil, false
	}
	inner, ok := rv.Elem().Interface().(Element)
	return inner, ok
}

func (c *Chain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.elems)
}

// At returns the element at index i. It panics if i is out of range.
func (c *Chain) At(i int) Element { return c.elems[i] }

// Elements returns a copy of the element sequence.
func (c *Chain) Elements() []Element {
	if c == nil {
		return nil
	}
	return append([]Element(nil), c.elems...)
}

// Slice returns elements [i, j) as a new chain. Bounds are clamped to the
// chain.
func (c *Chain) Slice(i, j int) *Chain {
	n := c.Len()
	i = min(max(i, 0), n)
	j = min(max(j, i), n)
	return &Chain{elems: c.Elements()[i:j]}
}

// GetFirst returns the first element of type T.
func GetFirst[T Element](c *Chain) (T, error) {
	var zero T
	if c != nil {
		for _, e := range c.elems {
			if v, ok := e.(T); ok {
				return v, nil
			}
		}
	}
	return zero, fmt.Errorf("%w: %T", ErrNoSuchElement, zero)
}

// Get returns every element of type T in order.
func Get[T Element](c *Chain) []T {
	var out []T
	if c == nil {
		return out
	}
	for _, e := range c.elems {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func Has[T Element](c *Chain) bool {
	_, err := GetFirst[T](c)
	return err == nil
}

// Merge joins adjacent Plain elements. A run of two or more becomes a single
// Plain without extras. With copyChain the receiver is left untouched and a
// new chain is returned; otherwise the receiver is rewritten and returned.
func (c *Chain) Merge(copyChain bool) *Chain {
	if c == nil {
		return &Chain{}
	}
	merged := mergePlain(c.elems)
	if copyChain {
		return &Chain{elems: merged}
	}
	c.elems = merged
	return c
}

func mergePlain(elems []Element) []Element {
	out := make([]Element, 0, len(elems))
	for i := 0; i < len(elems); {
		p, ok := elems[i].(Plain)
		if !ok {
			out = append(out, elems[i])
			i++
			continue
		}
		j := i + 1
		for j < len(elems) {
			if _, ok := elems[j].(Plain); !ok {
				break
			}
			j++
		}
		if j-i == 1 {
			out = append(out, p)
		} else {
			var b strings.Builder
			for _, e := range elems[i:j] {
				b.WriteString(e.(Plain).Text)
			}
			out = append(out, Plain{Text: b.String()})
		}
		i = j
	}
	return out
}

// Display concatenates every element's display text.
func (c *Chain) Display() string {
	if c == nil {
		return ""
	}
	var b strings.Builder
	for _, e := range c.elems {
		b.WriteString(e.Display())
	}
	return b.String()
}

func (c *Chain) String() string { return c.Display() }

// Repeat returns the chain's elements repeated n times.
func (c *Chain) Repeat(n int) (*Chain, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: repeat count %d is negative", ErrArgument, n)
	}
	src := c.Elements()
	out := &Chain{elems: make([]Element, 0, len(src)*n)}
	for range n {
		out.elems = append(out.elems, src...)
	}
	return out, nil
}

// Concat returns a new chain of the receiver followed by items, coerced as in
// NewChain.
func (c *Chain) Concat(items ...any) (*Chain, error) {
	out := &Chain{elems: c.Elements()}
	if err := out.appendItems(items); err != nil {
		return nil, err
	}
	return out, nil
}

// Equal reports element-wise equality. A nil chain equals an empty one.
func (c *Chain) Equal(o *Chain) bool {
	if c.Len() != o.Len() {
		return false
	}
	for i := 0; i < c.Len(); i++ {
		if !c.elems[i].equal(o.elems[i]) {
			return false
		}
	}
	return true
}

// Key returns the chain's canonical wire encoding. Chains that are Equal
// have the same Key, so it can stand in for the chain as a map key.
func (c *Chain) Key() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", c.Elements())
	}
	return string(data)
}

// Contains reports whether an element equal to e is in the chain.
func (c *Chain) Contains(e Element) bool {
	e, ok := normalize(e)
	if !ok || c == nil {
		return false
	}
	for _, x := range c.elems {
		if x.equal(e) {
			return true
		}
	}
	return false
}

// Prepare runs every element's send hook in order and stops at the first
// failure.
func (c *Chain) Prepare(ctx context.Context) error {
	if c == nil {
		return nil
	}
	for i, e := range c.elems {
		if err := e.Prepare(ctx); err != nil {
			return fmt.Errorf("element %d (%s): %w", i, e.Kind(), err)
		}
	}
	return nil
}

func (c *Chain) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, e := range c.Elements() {
		if i > 0 {
			buf.WriteByte(',')
		}
		rec, err := encodeElement(e)
		if err != nil {
			return nil, err
		}
		buf.Write(rec)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (c *Chain) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	out := &Chain{}
	if !bytes.Equal(data, []byte("null")) {
		if len(data) == 0 || data[0] != '[' {
			return errors.New("message chain must be a JSON array")
		}
		if err := out.appendRaw(data); err != nil {
			return err
		}
	}
	c.elems = out.elems
	return nil
}
