// Package event defines the events pushed by the gateway and the lifecycle
// events the application posts itself.
package event

import (
	"reflect"

	"argon/internal/domain"
	"argon/internal/message"
)

var (
	friendType = reflect.TypeOf(domain.Friend{})
	memberType = reflect.TypeOf(domain.Member{})
	groupType  = reflect.TypeOf(domain.Group{})
	clientType = reflect.TypeOf(domain.Client{})
)

// FriendMessage is a private message from a friend.
type FriendMessage struct {
	Sender domain.Friend  `json:"sender"`
	Chain  *message.Chain `json:"messageChain"`
	Extra  message.Fields `json:"-"`
}

func (FriendMessage) EventType() string { return "FriendMessage" }
func (e FriendMessage) MessageChain() *message.Chain { return e.Chain }
func (e *FriendMessage) setExtra(f message.Fields) { e.Extra = f }

func (e FriendMessage) CatchParam(t reflect.Type) (any, bool) {
	if t == friendType {
		return e.Sender, true
	}
	return nil, false
}

// GroupMessage is a message posted in a group.
type GroupMessage struct {
	Sender domain.Member  `json:"sender"`
	Chain  *message.Chain `json:"messageChain"`
	Extra  message.Fields `json:"-"`
}

func (GroupMessage) EventType() string { return "GroupMessage" }
func (e GroupMessage) MessageChain() *message.Chain { return e.Chain }
func (e *GroupMessage) setExtra(f message.Fields) { e.Extra = f }

func (e GroupMessage) CatchParam(t reflect.Type) (any, bool) {
	return catchMember(e.Sender, t)
}

// TempMessage is a private message from a group member who is not a friend.
type TempMessage struct {
	Sender domain.Member  `json:"sender"`
	Chain  *message.Chain `json:"messageChain"`
	Extra  message.Fields `json:"-"`
}

func (TempMessage) EventType() string { return "TempMessage" }
func (e TempMessage) MessageChain() *message.Chain { return e.Chain }
func (e *TempMessage) setExtra(f message.Fields) { e.Extra = f }

func (e TempMessage) CatchParam(t reflect.Type) (any, bool) {
	return catchMember(e.Sender, t)
}

// StrangerMessage is a private message from a user who is neither a friend
// nor reachable through a group.
type StrangerMessage struct {
	Sender domain.Friend  `json:"sender"`
	Chain  *message.Chain `json:"messageChain"`
	Extra  message.Fields `json:"-"`
}

func (StrangerMessage) EventType() string { return "StrangerMessage" }
func (e StrangerMessage) MessageChain() *message.Chain { return e.Chain }
func (e *StrangerMessage) setExtra(f message.Fields) { e.Extra = f }

func (e StrangerMessage) CatchParam(t reflect.Type) (any, bool) {
	if t == friendType {
		return e.Sender, true
	}
	return nil, false
}

// OtherClientMessage is a message sent from another client of the bot account.
type OtherClientMessage struct {
	Sender domain.Client  `json:"sender"`
	Chain  *message.Chain `json:"messageChain"`
	Extra  message.Fields `json:"-"`
}

func (OtherClientMessage) EventType() string { return "OtherClientMessage" }
func (e OtherClientMessage) MessageChain() *message.Chain { return e.Chain }
func (e *OtherClientMessage) setExtra(f message.Fields) { e.Extra = f }

func (e OtherClientMessage) CatchParam(t reflect.Type) (any, bool) {
	if t == clientType {
		return e.Sender, true
	}
	return nil, false
}

func catchMember(m domain.Member, t reflect.Type) (any, bool) {
	switch t {
	case memberType:
		return m, true
	case groupType:
		return m.Group, true
	}
	return nil, false
}

// BotEvent covers the bot account's own state changes. Kind is one of
// BotOnlineEvent, BotOfflineEventActive, BotOfflineEventForce,
// BotOfflineEventDropped or BotReloginEvent.
type BotEvent struct {
	Kind  string         `json:"-"`
	QQ    int64          `json:"qq"`
	Extra message.Fields `json:"-"`
}

func (e BotEvent) EventType() string { return e.Kind }
func (e *BotEvent) setExtra(f message.Fields) { e.Extra = f }

// FriendRecallEvent reports a friend recalling a private message.
type FriendRecallEvent struct {
	AuthorID  int64          `json:"authorId"`
	MessageID int64          `json:"messageId"`
	Time      int64          `json:"time"`
	Operator  int64          `json:"operator"`
	Extra     message.Fields `json:"-"`
}

func (FriendRecallEvent) EventType() string { return "FriendRecallEvent" }
func (e *FriendRecallEvent) setExtra(f message.Fields) { e.Extra = f }

// GroupRecallEvent reports a group message being recalled. Operator is nil
// when the bot itself recalled it.
type GroupRecallEvent struct {
	AuthorID  int64          `json:"authorId"`
	MessageID int64          `json:"messageId"`
	Time      int64          `json:"time"`
	Group     domain.Group   `json:"group"`
	Operator  *domain.Member `json:"operator"`
	Extra     message.Fields `json:"-"`
}

func (GroupRecallEvent) EventType() string { return "GroupRecallEvent" }
func (e *GroupRecallEvent) setExtra(f message.Fields) { e.Extra = f }

func (e GroupRecallEvent) CatchParam(t reflect.Type) (any, bool) {
	switch t {
	case groupType:
		return e.Group, true
	case memberType:
		if e.Operator != nil {
			return *e.Operator, true
		}
	}
	return nil, false
}

// NudgeSubject is where a nudge happened.
type NudgeSubject struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"` // Friend | Group
}

// NudgeEvent reports a nudge.
type NudgeEvent struct {
	FromID  int64          `json:"fromId"`
	Subject NudgeSubject   `json:"subject"`
	Action  string         `json:"action"`
	Suffix  string         `json:"suffix"`
	Target  int64          `json:"target"`
	Extra   message.Fields `json:"-"`
}

func (NudgeEvent) EventType() string { return "NudgeEvent" }
func (e *NudgeEvent) setExtra(f message.Fields) { e.Extra = f }

// MemberJoinEvent reports a new group member.
type MemberJoinEvent struct {
	Member  domain.Member  `json:"member"`
	Invitor *domain.Member `json:"invitor"`
	Extra   message.Fields `json:"-"`
}

func (MemberJoinEvent) EventType() string { return "MemberJoinEvent" }
func (e *MemberJoinEvent) setExtra(f message.Fields) { e.Extra = f }

func (e MemberJoinEvent) CatchParam(t reflect.Type) (any, bool) {
	return catchMember(e.Member, t)
}

// Unknown is an event type this package does not model.
type Unknown struct {
	Type   string
	Fields message.Fields
}

func (e Unknown) EventType() string { return e.Type }
