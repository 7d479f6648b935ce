package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ForwardNode is one message inside a forward bundle.
type ForwardNode struct {
	SenderID   int64
	Time       time.Time
	SenderName string
	Chain      *Chain
	MessageID  int64
}

type forwardNodeWire struct {
	SenderID     int64  `json:"senderId"`
	Time         int64  `json:"time"`
	SenderName   string `json:"senderName"`
	MessageChain *Chain `json:"messageChain"`
	MessageID    int64  `json:"messageId,omitempty"`
}

func (n ForwardNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(forwardNodeWire{
		SenderID:     n.SenderID,
		Time:         n.Time.Unix(),
		SenderName:   n.SenderName,
		MessageChain: n.Chain,
		MessageID:    n.MessageID,
	})
}

func (n *ForwardNode) UnmarshalJSON(data []byte) error {
	var w forwardNodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = ForwardNode{
		SenderID:   w.SenderID,
		Time:       time.Unix(w.Time, 0),
		SenderName: w.SenderName,
		Chain:      w.MessageChain,
		MessageID:  w.MessageID,
	}
	return nil
}

func (n ForwardNode) Equal(o ForwardNode) bool {
	return n.SenderID == o.SenderID && n.Time.Equal(o.Time) && n.SenderName == o.SenderName &&
		n.MessageID == o.MessageID && n.Chain.Equal(o.Chain)
}

// Forward bundles several messages into one.
type Forward struct {
	Nodes []ForwardNode `json:"nodeList"`
	Extra Fields        `json:"-"`
}

func (Forward) Kind() string { return "Forward" }
func (f Forward) Display() string { return fmt.Sprintf("[Forward:%d messages]", len(f.Nodes)) }
func (Forward) Prepare(context.Context) error { return nil }
func (f Forward) extra() Fields { return f.Extra }
func (f *Forward) setExtra(x Fields) { f.Extra = x }

func (f Forward) equal(o Element) bool {
	g, ok := o.(Forward)
	if !ok || len(f.Nodes) != len(g.Nodes) || !f.Extra.Equal(g.Extra) {
		return false
	}
	for i := range f.Nodes {
		if !f.Nodes[i].Equal(g.Nodes[i]) {
			return false
		}
	}
	return true
}
