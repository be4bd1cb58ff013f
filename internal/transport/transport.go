// Package transport implements spec.md §4.4 Transports: a uniform
// start/send/close interface over stdio, SSE, WebSocket, and Streamable
// HTTP, each publishing onmessage/onerror/onclose events.
//
// Grounded on internal/transport/stdio.go (argv-only child process spawn),
// internal/transport/http.go and internal/transport/logging.go (auth-header
// injection before requests, URL redaction for logs), generalized to the
// four transports spec.md names.
package transport

import (
	"context"
	"encoding/json"
)

// Message is a JSON-RPC 2.0 envelope. Send fills in Jsonrpc "2.0" when it is
// empty (any other value is sent as given); emitMessage drops every inbound
// message whose Jsonrpc is not "2.0".
type Message struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OnMessage, OnError, OnClose are the three events every Transport publishes.
type (
	OnMessage func(Message)
	OnError   func(error)
	OnClose   func()
)

// SendOpts carries optional per-send parameters, e.g. a caller-assigned
// correlation id.
type SendOpts struct {
	ID any
}

// Transport is the uniform interface spec.md §4.4 requires of every
// transport kind.
type Transport interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, msg Message, opts *SendOpts) error
	Close() error

	SetOnMessage(OnMessage)
	SetOnError(OnError)
	SetOnClose(OnClose)

	// SetProtocolVersion is advisory-only for Streamable HTTP per
	// SPEC_FULL.md §4's Open Question decision: it never rebuilds the
	// transport by itself. Transports that ignore protocol versioning may
	// implement it as a no-op.
	SetProtocolVersion(version string)
}

// base provides the shared event-dispatch bookkeeping every concrete
// transport embeds, so each implementation only needs to call the three
// emit helpers.
type base struct {
	onMessage OnMessage
	onError   OnError
	onClose   OnClose
}

func (b *base) SetOnMessage(f OnMessage) { b.onMessage = f }
func (b *base) SetOnError(f OnError)     { b.onError = f }
func (b *base) SetOnClose(f OnClose)     { b.onClose = f }

func (b *base) emitMessage(m Message) {
	if m.Jsonrpc != "2.0" {
		return
	}
	if b.onMessage != nil {
		b.onMessage(m)
	}
}

func (b *base) emitError(err error) {
	if b.onError != nil {
		b.onError(err)
	}
}

func (b *base) emitClose() {
	if b.onClose != nil {
		b.onClose()
	}
}
