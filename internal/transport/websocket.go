package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// defaultPingInterval matches spec.md §4.4's WebSocket heartbeat default.
const defaultPingInterval = 30 * time.Second

// cleanCloseCodes never trigger a reconnect; protocolErrorCloseCodes
// surface the error without reconnecting; every other code (including 1006,
// the abnormal-closure sentinel browsers/servers use when no close frame was
// sent) is treated as abnormal and triggers reconnection, per spec.md §4.4.
var cleanCloseCodes = map[int]bool{
	websocket.CloseNormalClosure:   true,
	websocket.CloseGoingAway:       true,
}

var protocolErrorCloseCodes = map[int]bool{
	websocket.CloseProtocolError:           true,
	websocket.CloseUnsupportedData:         true,
	websocket.CloseInvalidFramePayloadData: true,
	websocket.ClosePolicyViolation:         true,
	websocket.CloseMessageTooBig:           true,
	websocket.CloseMandatoryExtension:      true,
	websocket.CloseInternalServerErr:       true,
}

// CloseCodeClass classifies a WS close code per spec.md §4.4.
type CloseCodeClass string

const (
	CloseClean          CloseCodeClass = "clean"
	CloseProtocolError  CloseCodeClass = "protocol_error"
	CloseAbnormal       CloseCodeClass = "abnormal"
)

func ClassifyCloseCode(code int) CloseCodeClass {
	switch {
	case cleanCloseCodes[code]:
		return CloseClean
	case protocolErrorCloseCodes[code]:
		return CloseProtocolError
	default:
		return CloseAbnormal
	}
}

// WebSocketTransport connects with auth headers in the upgrade request and
// normalizes http(s) scheme to ws(s). Grounded on the same auth-header and
// URL-sanitization idioms as SSETransport; gorilla/websocket is adopted from
// the example pack since mark3labs/mcp-go has no WebSocket client (see
// SPEC_FULL.md §2).
type WebSocketTransport struct {
	base

	rawURL      string
	auth        AuthProvider
	pingInterval time.Duration
	onReconnect func()
	logger      *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	pingStop  chan struct{}
}

func NewWebSocket(rawURL string, auth AuthProvider, pingInterval time.Duration, onReconnect func(), logger *zap.Logger) *WebSocketTransport {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketTransport{
		rawURL:       rawURL,
		auth:         auth,
		pingInterval: pingInterval,
		onReconnect:  onReconnect,
		logger:       logger.Named("transport.websocket"),
	}
}

// normalizeScheme converts http/https to ws/wss, as spec.md §4.4 requires.
func normalizeScheme(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

func (t *WebSocketTransport) Start(ctx context.Context) error {
	wsURL, err := normalizeScheme(t.rawURL)
	if err != nil {
		return newError(ConnectionFailed, "parsing websocket URL", err)
	}

	header := http.Header{}
	if t.auth != nil {
		headers, err := t.auth.GetHeaders(ctx)
		if err != nil {
			return newError(Unauthorized, "acquiring auth headers", err)
		}
		for k, v := range headers {
			header.Set(k, v)
		}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return newError(Unauthorized, "websocket handshake unauthorized", err)
		}
		return newError(ConnectionFailed, fmt.Sprintf("dialing %s", SanitizeURL(wsURL)), err)
	}

	t.mu.Lock()
	t.conn = conn
	t.pingStop = make(chan struct{})
	t.mu.Unlock()

	conn.SetCloseHandler(func(code int, text string) error {
		t.handleClose(code)
		return nil
	})

	go t.readLoop(conn)
	go t.heartbeat(conn, t.pingStop)
	return nil
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				code := websocket.CloseAbnormalClosure
				if ce, ok := err.(*websocket.CloseError); ok {
					code = ce.Code
				}
				t.handleClose(code)
			}
			return
		}

		trimmed := strings.TrimSpace(string(data))
		if trimmed == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			t.logger.Warn("dropping unparsable websocket frame", zap.Error(err))
			continue
		}
		t.emitMessage(msg)
	}
}

func (t *WebSocketTransport) heartbeat(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(t.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				t.handleClose(websocket.CloseAbnormalClosure)
				return
			}
		}
	}
}

func (t *WebSocketTransport) handleClose(code int) {
	t.mu.Lock()
	alreadyClosed := t.closed
	t.closed = true
	t.mu.Unlock()
	if alreadyClosed {
		return
	}

	class := ClassifyCloseCode(code)
	switch class {
	case CloseClean:
		t.emitClose()
	case CloseProtocolError:
		t.emitError(newError(ConnectionReset, fmt.Sprintf("websocket protocol error, close code %d", code), nil))
		t.emitClose()
	default:
		t.emitError(newError(ConnectionReset, fmt.Sprintf("websocket abnormal close, code %d", code), nil))
		if t.onReconnect != nil {
			t.onReconnect()
		}
		t.emitClose()
	}
}

func (t *WebSocketTransport) Send(ctx context.Context, msg Message, opts *SendOpts) error {
	if msg.Jsonrpc == "" {
		msg.Jsonrpc = "2.0"
	}
	if opts != nil && opts.ID != nil && msg.ID == nil {
		msg.ID = opts.ID
	}

	t.mu.Lock()
	conn := t.conn
	closed := t.closed
	t.mu.Unlock()

	if closed || conn == nil {
		return newError(TransportClosed, "websocket transport is closed", nil)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return newError(ConnectionFailed, "marshaling outgoing message", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return newError(ConnectionReset, "websocket write failed", err)
	}
	return nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	stop := t.pingStop
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (t *WebSocketTransport) SetProtocolVersion(string) {}
