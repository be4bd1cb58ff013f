package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StreamableHTTPTransport sends every message as its own HTTP POST. Auth
// headers are read from the AuthProvider for each request, so a rotated
// bearer value takes effect on the next Send; there is no long-lived
// connection, and nothing is rebuilt or closed on rotation. The session id
// carries over unchanged unless the server returns a new Mcp-Session-Id.
//
// SetProtocolVersion is advisory-only here (SPEC_FULL.md §4's Open Question
// decision): it only sets the MCP-Protocol-Version header on later requests.
type StreamableHTTPTransport struct {
	base

	url        string
	auth       AuthProvider
	httpClient *http.Client
	logger     *zap.Logger

	mu            sync.Mutex
	sessionID     string
	protocolVer   string
	lastAuthHash  string
	closed        bool
}

func NewStreamableHTTP(url string, auth AuthProvider, httpClient *http.Client, logger *zap.Logger) *StreamableHTTPTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamableHTTPTransport{
		url:        url,
		auth:       auth,
		httpClient: httpClient,
		logger:     logger.Named("transport.streamablehttp"),
	}
}

func (t *StreamableHTTPTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.sessionID == "" {
		t.sessionID = uuid.NewString()
	}
	t.mu.Unlock()

	if t.auth != nil {
		headers, err := t.auth.GetHeaders(ctx)
		if err != nil {
			return newError(Unauthorized, "acquiring auth headers", err)
		}
		t.mu.Lock()
		t.lastAuthHash = headerHash(headers)
		t.mu.Unlock()
	}
	return nil
}

func headerHash(headers map[string]string) string {
	return headers["Authorization"]
}

func (t *StreamableHTTPTransport) Send(ctx context.Context, msg Message, opts *SendOpts) error {
	if msg.Jsonrpc == "" {
		msg.Jsonrpc = "2.0"
	}
	if opts != nil && opts.ID != nil && msg.ID == nil {
		msg.ID = opts.ID
	}

	if err := t.maybeRebuild(ctx); err != nil {
		return err
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return newError(ConnectionFailed, "marshaling outgoing message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(raw))
	if err != nil {
		return newError(ConnectionFailed, "building streamable HTTP request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	t.mu.Lock()
	sessionID := t.sessionID
	protocolVer := t.protocolVer
	t.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	if protocolVer != "" {
		req.Header.Set("MCP-Protocol-Version", protocolVer)
	}

	if t.auth != nil {
		headers, err := t.auth.GetHeaders(ctx)
		if err != nil {
			return newError(Unauthorized, "acquiring auth headers", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return newError(ConnectionReset, fmt.Sprintf("request to %s failed", SanitizeURL(t.url)), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if ok, rerr := t.auth.Refresh(ctx); ok && rerr == nil {
			return t.Send(ctx, msg, opts)
		}
		return newError(Unauthorized, "streamable HTTP request unauthorized", nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newError(ConnectionFailed, fmt.Sprintf("streamable HTTP endpoint returned HTTP %d", resp.StatusCode), nil)
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	var respMsg Message
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&respMsg); err == nil {
		t.emitMessage(respMsg)
	}
	return nil
}

// maybeRebuild re-acquires headers and records whether the bearer value
// changed since the last Start or Send. A change is only logged: the session
// id and other transport state are kept as they are, and Send applies the
// new headers to the request it is about to make.
func (t *StreamableHTTPTransport) maybeRebuild(ctx context.Context) error {
	if t.auth == nil {
		return nil
	}
	headers, err := t.auth.GetHeaders(ctx)
	if err != nil {
		return newError(Unauthorized, "acquiring auth headers", err)
	}
	newHash := headerHash(headers)

	t.mu.Lock()
	changed := newHash != t.lastAuthHash
	t.lastAuthHash = newHash
	t.mu.Unlock()

	if changed {
		t.logger.Debug("auth header rotated, transport state refreshed in place")
	}
	return nil
}

func (t *StreamableHTTPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.emitClose()
	return nil
}

func (t *StreamableHTTPTransport) SetProtocolVersion(version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.protocolVer = version
}
