package domain

import (
	"context"
	"encoding/json"
)

// Event is anything the broadcast can dispatch. EventType is the gateway's
// type discriminant ("FriendMessage", "GroupRecallEvent", ...).
type Event interface {
	EventType() string
}

// Adapter is the transport to the gateway.
type Adapter interface {
	// Start connects and delivers every raw inbound event to deliver until ctx
	// is cancelled or Stop is called.
	Start(ctx context.Context, deliver func(ctx context.Context, raw json.RawMessage)) error

	// Call issues one gateway command and returns the response's data payload.
	Call(ctx context.Context, command string, method CallMethod, params map[string]any) (json.RawMessage, error)

	Stop() error
	Session() Session
}

// Scheduler runs event-handling tasks.
type Scheduler interface {
	Go(ctx context.Context, fn func(ctx context.Context))
}

// Broadcast accepts events for dispatch to registered handlers.
type Broadcast interface {
	Post(ctx context.Context, ev Event)
	Scheduler() Scheduler
}

// Application is the handle handlers receive for talking back to the gateway.
type Application interface {
	Adapter() Adapter
	Broadcast() Broadcast
}
