package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"argon/internal/dispatch"
	"argon/internal/domain"
	"argon/internal/event"
	"argon/internal/message"
	"argon/internal/metrics"
	"argon/internal/scope"
	"argon/internal/store"
)

// ErrUnsupportedTarget is returned by SendMessage for targets it cannot route.
var ErrUnsupportedTarget = errors.New("app: unsupported send target")

type sendOptions struct {
	quote int64
}

type SendOption func(*sendOptions)

// Quote makes the message a reply to the message with the given id.
func Quote(messageID int64) SendOption {
	return func(o *sendOptions) { o.quote = messageID }
}

// SendFriendMessage sends chain to a friend and returns the new message id.
func (a *App) SendFriendMessage(ctx context.Context, target int64, chain *message.Chain, opts ...SendOption) (int64, error) {
	return a.send(ctx, domain.UploadFriend, "sendFriendMessage", target,
		map[string]any{"target": target}, chain, opts)
}

// SendGroupMessage sends chain to a group and returns the new message id.
func (a *App) SendGroupMessage(ctx context.Context, group int64, chain *message.Chain, opts ...SendOption) (int64, error) {
	return a.send(ctx, domain.UploadGroup, "sendGroupMessage", group,
		map[string]any{"target": group}, chain, opts)
}

// SendTempMessage sends chain to a group member who is not a friend.
func (a *App) SendTempMessage(ctx context.Context, qq, group int64, chain *message.Chain, opts ...SendOption) (int64, error) {
	return a.send(ctx, domain.UploadTemp, "sendTempMessage", qq,
		map[string]any{"qq": qq, "group": group}, chain, opts)
}

// SendMessage routes chain by target: a Friend, a Group or a Member (as a
// temp message), or a message event, which is answered where it came from.
func (a *App) SendMessage(ctx context.Context, target any, chain *message.Chain, opts ...SendOption) (int64, error) {
	switch t := target.(type) {
	case domain.Friend:
		return a.SendFriendMessage(ctx, t.ID, chain, opts...)
	case domain.Group:
		return a.SendGroupMessage(ctx, t.ID, chain, opts...)
	case domain.Member:
		return a.SendTempMessage(ctx, t.ID, t.Group.ID, chain, opts...)
	case event.FriendMessage:
		return a.SendFriendMessage(ctx, t.Sender.ID, chain, opts...)
	case event.StrangerMessage:
		return a.SendFriendMessage(ctx, t.Sender.ID, chain, opts...)
	case event.GroupMessage:
		return a.SendGroupMessage(ctx, t.Sender.Group.ID, chain, opts...)
	case event.TempMessage:
		return a.SendTempMessage(ctx, t.Sender.ID, t.Sender.Group.ID, chain, opts...)
	}
	return 0, fmt.Errorf("%w: %T", ErrUnsupportedTarget, target)
}

// Reply answers the message event ev, quoting its source.
func (a *App) Reply(ctx context.Context, ev domain.Event, chain *message.Chain) (int64, error) {
	var opts []SendOption
	if ce, ok := ev.(dispatch.ChainEvent); ok {
		if src, err := sourceOf(ce.MessageChain()); err == nil {
			opts = append(opts, Quote(src.ID))
		}
	}
	return a.SendMessage(ctx, ev, chain, opts...)
}

func (a *App) send(ctx context.Context, method domain.UploadMethod, command string, subject int64, params map[string]any, chain *message.Chain, opts []SendOption) (int64, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	if chain == nil {
		chain = &message.Chain{}
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var sent domain.BotMessage
	err := scope.EnterMessageSendContext(ctx, method, func(ctx context.Context) error {
		if err := chain.Prepare(ctx); err != nil {
			return err
		}
		params["messageChain"] = chain
		if o.quote != 0 {
			params["quote"] = o.quote
		}
		data, err := a.adapter.Call(ctx, command, domain.CallPost, params)
		if err != nil {
			return err
		}
		sent, err = decode[domain.BotMessage](data, command)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", command, err)
	}

	metrics.MessagesSent.Inc()
	if sent.MessageID == -1 {
		a.logger.Warn("message accepted but not delivered", "command", command, "target", subject)
	}
	a.logger.Debug("message sent", "command", command, "target", subject, "id", sent.MessageID)

	if a.store != nil && sent.MessageID > 0 {
		err := a.store.SaveMessage(ctx, store.Message{
			ID:        sent.MessageID,
			Subject:   subject,
			Kind:      string(method),
			Direction: store.Outbound,
			Chain:     chain,
		})
		if err != nil {
			a.logger.Warn("store sent message failed", "id", sent.MessageID, "err", err)
		}
	}
	return sent.MessageID, nil
}

// Recall withdraws a message. target is the friend or group it was sent to.
func (a *App) Recall(ctx context.Context, messageID, target int64) error {
	_, err := a.adapter.Call(ctx, "recall", domain.CallPost, map[string]any{
		"messageId": messageID,
		"target":    target,
	})
	return err
}

// Version returns the gateway plugin version.
func (a *App) Version(ctx context.Context) (string, error) {
	data, err := a.adapter.Call(ctx, "about", domain.CallGet, nil)
	if err != nil {
		return "", err
	}
	about, err := decode[struct {
		Version string `json:"version"`
	}](data, "about")
	return about.Version, err
}

func (a *App) FriendList(ctx context.Context) ([]domain.Friend, error) {
	data, err := a.adapter.Call(ctx, "friendList", domain.CallGet, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]domain.Friend](data, "friendList")
}

func (a *App) GroupList(ctx context.Context) ([]domain.Group, error) {
	data, err := a.adapter.Call(ctx, "groupList", domain.CallGet, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]domain.Group](data, "groupList")
}

func (a *App) MemberList(ctx context.Context, group int64) ([]domain.Member, error) {
	data, err := a.adapter.Call(ctx, "memberList", domain.CallGet, map[string]any{"target": group})
	if err != nil {
		return nil, err
	}
	return decode[[]domain.Member](data, "memberList")
}

// MessageFromID looks a message up in the local store and falls back to the
// gateway's cache. target is the conversation the message belongs to, 0 for
// any.
func (a *App) MessageFromID(ctx context.Context, id, target int64) (*message.Chain, error) {
	if a.store != nil {
		m, err := a.store.Message(ctx, id, target)
		if err == nil {
			return m.Chain, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			a.logger.Warn("store lookup failed", "id", id, "err", err)
		}
	}

	params := map[string]any{"messageId": id}
	if target != 0 {
		params["target"] = target
	}
	data, err := a.adapter.Call(ctx, "messageFromId", domain.CallGet, params)
	if err != nil {
		return nil, err
	}
	ev, err := event.Decode(data)
	if err != nil {
		return nil, err
	}
	ce, ok := ev.(dispatch.ChainEvent)
	if !ok {
		return nil, fmt.Errorf("messageFromId: %w: %s carries no chain", event.ErrEventType, ev.EventType())
	}
	return ce.MessageChain(), nil
}

func sourceOf(chain *message.Chain) (message.Source, error) {
	return message.GetFirst[message.Source](chain)
}

// Raw issues an arbitrary gateway command for operations without a typed
// wrapper.
func (a *App) Raw(ctx context.Context, command string, method domain.CallMethod, params map[string]any) (json.RawMessage, error) {
	return a.adapter.Call(ctx, command, method, params)
}
