package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"argon/internal/domain"
)

// HTTPConfig configures the polling HTTP adapter.
type HTTPConfig struct {
	Session      domain.Session
	Client       *http.Client  // SharedHTTPClient(30s) when nil
	PollInterval time.Duration // default 500ms
	PollCount    int           // events fetched per poll, default 10
	Retry        RetryPolicy   // DefaultRetryPolicy() when zero
	Logger       *slog.Logger
}

// HTTPAdapter talks to the gateway over plain HTTP and polls for events.
type HTTPAdapter struct {
	client       *http.Client
	pollInterval time.Duration
	pollCount    int
	retry        RetryPolicy
	logger       *slog.Logger

	mu       sync.RWMutex
	session  domain.Session
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewHTTP(cfg HTTPConfig) *HTTPAdapter {
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(30 * time.Second)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollCount <= 0 {
		cfg.PollCount = 10
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &HTTPAdapter{
		client:       cfg.Client,
		pollInterval: cfg.PollInterval,
		pollCount:    cfg.PollCount,
		retry:        cfg.Retry,
		logger:       cfg.Logger.With("component", "http-adapter"),
		session:      cfg.Session,
		stopCh:       make(chan struct{}),
	}
}

func (a *HTTPAdapter) Session() domain.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Connected reports whether the adapter holds a usable session.
func (a *HTTPAdapter) Connected() bool {
	sess := a.Session()
	return sess.SingleMode || sess.SessionKey != ""
}

// Authenticate verifies the key and binds the session to the account. In
// single mode no session is needed and nothing is sent.
func (a *HTTPAdapter) Authenticate(ctx context.Context) error {
	sess := a.Session()
	if sess.SingleMode {
		return nil
	}
	data, err := a.post(ctx, "verify", map[string]any{"verifyKey": sess.VerifyKey})
	if err != nil {
		return err
	}
	var verified struct {
		Session string `json:"session"`
	}
	if err := json.Unmarshal(data, &verified); err != nil {
		return fmt.Errorf("decode verify response: %w", err)
	}
	if _, err := a.post(ctx, "bind", map[string]any{"sessionKey": verified.Session, "qq": sess.Account}); err != nil {
		return err
	}

	a.mu.Lock()
	a.session.SessionKey = verified.Session
	a.mu.Unlock()
	a.logger.Info("session bound", "account", sess.Account)
	return nil
}

// Start authenticates and then polls for events until ctx ends or Stop is
// called.
func (a *HTTPAdapter) Start(ctx context.Context, deliver func(ctx context.Context, raw json.RawMessage)) error {
	if err := a.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-ticker.C:
		}

		events, err := a.fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("fetch events failed", "err", err)
			if errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrSessionUnverified) {
				if err := a.Authenticate(ctx); err != nil {
					a.logger.Error("re-authenticate failed", "err", err)
				}
			}
			continue
		}
		for _, ev := range events {
			deliver(ctx, ev)
		}
	}
}

func (a *HTTPAdapter) fetch(ctx context.Context) ([]json.RawMessage, error) {
	data, err := a.Call(ctx, "fetchMessage", domain.CallGet, map[string]any{"count": a.pollCount})
	if err != nil {
		return nil, err
	}
	var events []json.RawMessage
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode fetchMessage: %w", err)
	}
	return events, nil
}

// Call issues one command. GET-style methods send params as query values;
// POST-style methods send a JSON body; CallMultipart sends a form where
// []byte values become file parts.
func (a *HTTPAdapter) Call(ctx context.Context, command string, method domain.CallMethod, params map[string]any) (data json.RawMessage, err error) {
	start := time.Now()
	defer func() { observe(start, err) }()

	sess := a.Session()
	withKey := make(map[string]any, len(params)+1)
	for k, v := range params {
		withKey[k] = v
	}
	if sess.SessionKey != "" {
		withKey["sessionKey"] = sess.SessionKey
	}

	switch method {
	case domain.CallGet, domain.CallRestGet:
		return a.get(ctx, command, withKey)
	case domain.CallPost, domain.CallRestPost:
		return a.post(ctx, command, withKey)
	case domain.CallMultipart:
		return a.multipart(ctx, command, withKey)
	}
	return nil, fmt.Errorf("adapter: unknown call method %q", method)
}

func (a *HTTPAdapter) get(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, queryValue(v))
	}
	target := a.Session().URL(command)
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return a.do(ctx, command, true, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (a *HTTPAdapter) post(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", command, err)
	}
	target := a.Session().URL(command)
	return a.do(ctx, command, false, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (a *HTTPAdapter) multipart(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		if data, ok := v.([]byte); ok {
			part, err := w.CreateFormFile(k, k)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(data); err != nil {
				return nil, err
			}
			continue
		}
		if err := w.WriteField(k, queryValue(v)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	body, contentType := buf.Bytes(), w.FormDataContentType()
	target := a.Session().URL(command)
	return a.do(ctx, command, false, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		return req, nil
	})
}

// do sends one request. Only idempotent requests are retried after a failure
// the gateway may already have acted on.
func (a *HTTPAdapter) do(ctx context.Context, command string, idempotent bool, build func() (*http.Request, error)) (json.RawMessage, error) {
	resp, err := doWithRetry(ctx, a.client, a.retry, idempotent, build, a.logger)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", command, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: read response: %w", command, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway %s: HTTP %d: %s", command, resp.StatusCode, truncate(body, 200))
	}
	return unwrapResponse(command, body)
}

// Stop releases the session and ends the poll loop.
func (a *HTTPAdapter) Stop() error {
	var err error
	a.stopOnce.Do(func() {
		close(a.stopCh)
		sess := a.Session()
		if sess.SingleMode || sess.SessionKey == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err = a.post(ctx, "release", map[string]any{"sessionKey": sess.SessionKey, "qq": sess.Account})
	})
	return err
}

func queryValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
