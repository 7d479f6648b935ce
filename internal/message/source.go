package message

import (
	"context"
	"encoding/json"
	"time"
)

// Source identifies the message a received chain came from. It is always the
// first element of an inbound chain.
type Source struct {
	ID    int64     `json:"id"`
	Time  time.Time `json:"time"`
	Extra Fields    `json:"-"`
}

type sourceWire struct {
	ID   int64 `json:"id"`
	Time int64 `json:"time"`
}

func (Source) Kind() string { return "Source" }
func (Source) Display() string { return "" }
func (Source) Prepare(context.Context) error { return nil }
func (s Source) extra() Fields { return s.Extra }
func (s *Source) setExtra(f Fields) { s.Extra = f }

func (s Source) equal(o Element) bool {
	t, ok := o.(Source)
	return ok && s.ID == t.ID && s.Time.Equal(t.Time) && s.Extra.Equal(t.Extra)
}

func (s Source) MarshalJSON() ([]byte, error) {
	return json.Marshal(sourceWire{ID: s.ID, Time: s.Time.Unix()})
}

func (s *Source) UnmarshalJSON(data []byte) error {
	var w sourceWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.ID = w.ID
	s.Time = time.Unix(w.Time, 0)
	return nil
}

// Quote is a reply to an earlier message.
type Quote struct {
	ID       int64  `json:"id"`
	GroupID  int64  `json:"groupId"`
	SenderID int64  `json:"senderId"`
	TargetID int64  `json:"targetId"`
	Origin   *Chain `json:"origin"`
	Extra    Fields `json:"-"`
}

func (Quote) Kind() string { return "Quote" }
func (Quote) Display() string { return "" }
func (Quote) Prepare(context.Context) error { return nil }
func (q Quote) extra() Fields { return q.Extra }
func (q *Quote) setExtra(f Fields) { q.Extra = f }

func (q Quote) equal(o Element) bool {
	r, ok := o.(Quote)
	return ok && q.ID == r.ID && q.GroupID == r.GroupID && q.SenderID == r.SenderID &&
		q.TargetID == r.TargetID && q.Origin.Equal(r.Origin) && q.Extra.Equal(r.Extra)
}
