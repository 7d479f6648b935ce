package domain

import (
	"net/url"
	"strings"
)

// Session describes the connection to the upstream gateway and the state of
// the authenticated session.
type Session struct {
	Host       string `json:"host"`
	Account    int64  `json:"account,omitempty"`
	VerifyKey  string `json:"verifyKey,omitempty"`
	SingleMode bool   `json:"singleMode,omitempty"`
	SessionKey string `json:"sessionKey,omitempty"`
	Version    string `json:"version,omitempty"`
}

// URL joins route onto the session host.
func (s Session) URL(route string) string {
	base := strings.TrimRight(s.Host, "/")
	route = strings.TrimLeft(route, "/")
	if route == "" {
		return base
	}
	return base + "/" + route
}

// WebSocketURL returns the ws(s):// form of the host joined with route.
func (s Session) WebSocketURL(route string) (string, error) {
	u, err := url.Parse(s.URL(route))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// UploadMethod is the audience a message or media upload targets. It gates
// which elements are valid in a chain.
type UploadMethod string

const (
	UploadFriend UploadMethod = "friend"
	UploadGroup  UploadMethod = "group"
	UploadTemp   UploadMethod = "temp"
)

// Valid reports whether m is one of the three known methods.
func (m UploadMethod) Valid() bool {
	switch m {
	case UploadFriend, UploadGroup, UploadTemp:
		return true
	}
	return false
}

// CallMethod selects how an adapter issues a gateway command.
type CallMethod string

const (
	CallGet       CallMethod = "GET"
	CallPost      CallMethod = "POST"
	CallRestGet   CallMethod = "get"
	CallRestPost  CallMethod = "update"
	CallMultipart CallMethod = "multipart"
)
