package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SSETransport implements an EventSource-style connection for server→client
// messages; sends are HTTP POSTs to the same URL, matching spec.md §4.4's
// SSE transport description.
//
// Grounded on internal/transport/http.go's auth-header-before-request
// pattern and internal/transport/logging.go's URL redaction.
type SSETransport struct {
	base

	url        string
	auth       AuthProvider
	httpClient *http.Client
	onReconnect func()
	logger     *zap.Logger

	mu        sync.Mutex
	sessionID string
	closed    bool
	cancel    context.CancelFunc
}

func NewSSE(url string, auth AuthProvider, httpClient *http.Client, onReconnect func(), logger *zap.Logger) *SSETransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SSETransport{
		url:         url,
		auth:        auth,
		httpClient:  httpClient,
		onReconnect: onReconnect,
		logger:      logger.Named("transport.sse"),
	}
}

func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	t.sessionID = uuid.NewString()
	streamCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.url, nil)
	if err != nil {
		return newError(ConnectionFailed, "building SSE request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := t.applyAuthHeaders(streamCtx, req); err != nil {
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return newError(ConnectionFailed, fmt.Sprintf("connecting to %s", SanitizeURL(t.url)), err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if ok, rerr := t.auth.Refresh(streamCtx); ok && rerr == nil {
			return t.Start(ctx)
		}
		return newError(Unauthorized, "SSE connection unauthorized", nil)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return newError(ConnectionFailed, fmt.Sprintf("SSE endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	go t.readLoop(resp.Body)
	return nil
}

func (t *SSETransport) readLoop(body io.ReadCloser) {
	defer body.Close()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		case line == "":
			if len(dataLines) > 0 {
				t.handleEvent(strings.Join(dataLines, "\n"))
				dataLines = nil
			}
		case strings.HasPrefix(line, "event: error") || strings.HasPrefix(line, "event:error"):
			t.handleStreamError()
		}
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.handleStreamError()
	}
	t.emitClose()
}

func (t *SSETransport) handleEvent(raw string) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.logger.Warn("dropping unparsable SSE event", zap.Error(err))
		return
	}
	t.emitMessage(msg)
}

func (t *SSETransport) handleStreamError() {
	t.emitError(newError(ConnectionReset, "SSE stream error event", nil))
	if t.onReconnect != nil {
		t.onReconnect()
	}
}

func (t *SSETransport) Send(ctx context.Context, msg Message, opts *SendOpts) error {
	if msg.Jsonrpc == "" {
		msg.Jsonrpc = "2.0"
	}
	if opts != nil && opts.ID != nil && msg.ID == nil {
		msg.ID = opts.ID
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return newError(ConnectionFailed, "marshaling outgoing message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(raw))
	if err != nil {
		return newError(ConnectionFailed, "building SSE POST", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := t.applyAuthHeaders(ctx, req); err != nil {
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return newError(ConnectionReset, "SSE POST failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if ok, rerr := t.auth.Refresh(ctx); ok && rerr == nil {
			return t.Send(ctx, msg, opts)
		}
		return newError(Unauthorized, "SSE POST unauthorized", nil)
	}
	return nil
}

func (t *SSETransport) applyAuthHeaders(ctx context.Context, req *http.Request) error {
	if t.auth == nil {
		return nil
	}
	headers, err := t.auth.GetHeaders(ctx)
	if err != nil {
		return newError(Unauthorized, "acquiring auth headers", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

func (t *SSETransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (t *SSETransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *SSETransport) SetProtocolVersion(string) {}
