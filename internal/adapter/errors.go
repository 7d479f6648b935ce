// Package adapter implements the transports to a mirai-api-http gateway: a
// WebSocket adapter that receives pushed events and a polling HTTP adapter.
package adapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"argon/internal/metrics"
)

// Gateway status codes, matched with errors.Is against a *StatusError.
var (
	ErrVerifyKey         = errors.New("wrong verify key")
	ErrAccountNotFound   = errors.New("bot account not found")
	ErrSessionInvalid    = errors.New("session invalid or expired")
	ErrSessionUnverified = errors.New("session not verified")
	ErrTargetNotFound    = errors.New("target not found")
	ErrFileNotFound      = errors.New("file not found")
	ErrPermission        = errors.New("no permission")
	ErrAccountMuted      = errors.New("bot account muted")
	ErrMessageTooLong    = errors.New("message too long")
	ErrInvalidArgument   = errors.New("invalid argument")

	// ErrNotConnected is returned by calls made while no connection is up.
	ErrNotConnected = errors.New("adapter: not connected")
)

var statusErrors = map[int]error{
	1:   ErrVerifyKey,
	2:   ErrAccountNotFound,
	3:   ErrSessionInvalid,
	4:   ErrSessionUnverified,
	5:   ErrTargetNotFound,
	6:   ErrFileNotFound,
	10:  ErrPermission,
	20:  ErrAccountMuted,
	30:  ErrMessageTooLong,
	400: ErrInvalidArgument,
}

// StatusError is a response with a non-zero gateway status code.
type StatusError struct {
	Command string
	Code    int
	Msg     string
}

func (e *StatusError) Error() string {
	msg := e.Msg
	if msg == "" {
		if s, ok := statusErrors[e.Code]; ok {
			msg = s.Error()
		}
	}
	return fmt.Sprintf("gateway %s: code %d: %s", e.Command, e.Code, msg)
}

func (e *StatusError) Unwrap() error {
	return statusErrors[e.Code]
}

// unwrapResponse checks the status code of a response body and returns its
// data payload, or the body itself when it has none.
func unwrapResponse(command string, body json.RawMessage) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return body, nil
	}
	var head struct {
		Code *int            `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return nil, fmt.Errorf("gateway %s: decode response: %w", command, err)
	}
	if head.Code != nil && *head.Code != 0 {
		return nil, &StatusError{Command: command, Code: *head.Code, Msg: head.Msg}
	}
	if head.Data != nil {
		return head.Data, nil
	}
	return body, nil
}

// observe records the latency and outcome of one gateway call.
func observe(start time.Time, err error) {
	metrics.GatewayLatency.ObserveSince(start)
	if err != nil {
		metrics.GatewayErrors.Inc()
	}
}
