package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"argon/internal/domain"
	"argon/internal/metrics"
)

// eventSyncID marks frames pushed by the gateway rather than replies.
const eventSyncID = "-1"

// WSConfig configures the WebSocket adapter.
type WSConfig struct {
	Session domain.Session

	// CallTimeout bounds the wait for a reply when the caller's context has
	// no deadline. Default: 30s.
	CallTimeout time.Duration

	// ReconnectInterval is the first delay between reconnection attempts.
	// Default: 1s.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the exponential backoff. Default: 30s.
	MaxReconnectInterval time.Duration

	Dialer *websocket.Dialer
	Logger *slog.Logger
}

type wsRequest struct {
	SyncID     string         `json:"syncId"`
	Command    string         `json:"command"`
	SubCommand *string        `json:"subCommand"`
	Content    map[string]any `json:"content"`
}

type wsFrame struct {
	SyncID string          `json:"syncId"`
	Data   json.RawMessage `json:"data"`
}

// WSAdapter keeps one WebSocket connection to the gateway's /all route,
// delivering pushed events and correlating command replies by syncId.
type WSAdapter struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	session domain.Session
	pending map[string]chan wsFrame

	writeMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewWebSocket(cfg WSConfig) *WSAdapter {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.MaxReconnectInterval <= 0 {
		cfg.MaxReconnectInterval = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WSAdapter{
		cfg:     cfg,
		dialer:  cfg.Dialer,
		logger:  cfg.Logger.With("component", "ws-adapter"),
		session: cfg.Session,
		pending: make(map[string]chan wsFrame),
		stopCh:  make(chan struct{}),
	}
}

func (a *WSAdapter) Session() domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// Connected reports whether a connection is currently up.
func (a *WSAdapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

// Start connects and reads until ctx is cancelled or Stop is called. Lost
// connections are re-established with exponential backoff; a handshake the
// gateway rejects with a status code is returned as an error.
func (a *WSAdapter) Start(ctx context.Context, deliver func(ctx context.Context, raw json.RawMessage)) error {
	backoff := a.cfg.ReconnectInterval
	first := true
	for {
		conn, err := a.connect(ctx)
		if err != nil {
			var status *StatusError
			if errors.As(err, &status) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("connect failed", "err", err, "retry_in", backoff)
		} else {
			if !first {
				metrics.Reconnects.Inc()
			}
			first = false
			backoff = a.cfg.ReconnectInterval
			a.readLoop(ctx, conn, deliver)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, a.cfg.MaxReconnectInterval)
	}
}

// connect dials the gateway and reads the handshake frame carrying the
// session key.
func (a *WSAdapter) connect(ctx context.Context) (*websocket.Conn, error) {
	sess := a.Session()
	target, err := sess.WebSocketURL("all")
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	q := url.Values{}
	if sess.VerifyKey != "" {
		q.Set("verifyKey", sess.VerifyKey)
	}
	if !sess.SingleMode {
		q.Set("qq", strconv.FormatInt(sess.Account, 10))
	}
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	a.logger.Info("connecting to gateway", "host", sess.Host)
	conn, _, err := a.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial failed: %w", err)
	}

	key, err := a.handshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	a.mu.Lock()
	a.conn = conn
	a.session.SessionKey = key
	a.mu.Unlock()
	a.logger.Info("connected to gateway", "account", sess.Account)
	return conn, nil
}

func (a *WSAdapter) handshake(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("reading handshake: %w", err)
	}
	var frame wsFrame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return "", fmt.Errorf("parsing handshake: %w", err)
	}
	var hello struct {
		Code    int    `json:"code"`
		Msg     string `json:"msg"`
		Session string `json:"session"`
	}
	if err := json.Unmarshal(frame.Data, &hello); err != nil {
		return "", fmt.Errorf("parsing handshake: %w", err)
	}
	if hello.Code != 0 {
		return "", &StatusError{Command: "verify", Code: hello.Code, Msg: hello.Msg}
	}
	return hello.Session, nil
}

// readLoop routes frames until the connection drops. Pending calls are failed
// with ErrNotConnected on exit.
func (a *WSAdapter) readLoop(ctx context.Context, conn *websocket.Conn, deliver func(ctx context.Context, raw json.RawMessage)) {
	defer func() {
		conn.Close()
		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		for id, ch := range a.pending {
			close(ch)
			delete(a.pending, id)
		}
		a.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.stopCh:
			default:
				if ctx.Err() == nil {
					a.logger.Warn("ws read error", "err", err)
				}
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			a.logger.Warn("ws parse error", "err", err)
			continue
		}

		if frame.SyncID == eventSyncID || frame.SyncID == "" {
			if len(frame.Data) > 0 {
				deliver(ctx, frame.Data)
			}
			continue
		}

		a.mu.Lock()
		ch, ok := a.pending[frame.SyncID]
		if ok {
			delete(a.pending, frame.SyncID)
		}
		a.mu.Unlock()
		if ok {
			ch <- frame
		} else {
			a.logger.Debug("reply with no pending call", "sync_id", frame.SyncID)
		}
	}
}

// Call sends a command frame and waits for the reply with the same syncId.
// Route separators in command are written as underscores. Multipart uploads
// cannot travel over the socket and return errors.ErrUnsupported.
func (a *WSAdapter) Call(ctx context.Context, command string, method domain.CallMethod, params map[string]any) (data json.RawMessage, err error) {
	start := time.Now()
	defer func() { observe(start, err) }()

	req := wsRequest{
		Command: strings.ReplaceAll(strings.Trim(command, "/"), "/", "_"),
		Content: params,
	}
	switch method {
	case domain.CallGet, domain.CallPost:
	case domain.CallRestGet, domain.CallRestPost:
		sub := string(method)
		req.SubCommand = &sub
	case domain.CallMultipart:
		return nil, fmt.Errorf("gateway %s: multipart over websocket: %w", command, errors.ErrUnsupported)
	default:
		return nil, fmt.Errorf("adapter: unknown call method %q", method)
	}
	if req.Content == nil {
		req.Content = map[string]any{}
	}

	req.SyncID = uuid.NewString()
	replyCh := make(chan wsFrame, 1)

	a.mu.Lock()
	conn := a.conn
	if conn == nil {
		a.mu.Unlock()
		return nil, ErrNotConnected
	}
	a.pending[req.SyncID] = replyCh
	a.mu.Unlock()

	cleanup := func() {
		a.mu.Lock()
		delete(a.pending, req.SyncID)
		a.mu.Unlock()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("marshal %s: %w", command, err)
	}
	a.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	a.writeMu.Unlock()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("gateway %s: write: %w", command, err)
	}

	var timeout <-chan time.Time
	if _, ok := ctx.Deadline(); !ok {
		timer := time.NewTimer(a.cfg.CallTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case frame, ok := <-replyCh:
		if !ok {
			return nil, fmt.Errorf("gateway %s: %w", command, ErrNotConnected)
		}
		return unwrapResponse(command, frame.Data)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-timeout:
		cleanup()
		return nil, fmt.Errorf("gateway %s: no reply within %s", command, a.cfg.CallTimeout)
	}
}

// Stop closes the connection and ends Start.
func (a *WSAdapter) Stop() error {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}
		a.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		a.writeMu.Unlock()
		conn.Close()
	})
	return nil
}
