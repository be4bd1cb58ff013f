package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"
)

// Client layers JSON-RPC request/response correlation on top of a Transport,
// which only publishes fire-and-forget messages. Every upstream RPC (the MCP
// handshake, tools/list, tools/call) goes through a Client rather than
// calling Transport.Send directly, per spec.md §4.4's correlation
// requirement.
type Client struct {
	transport Transport
	pending   *pendingRequests
	nextID    int64

	onNotification func(Message)
}

// NewClient wraps t, taking over its onMessage callback. Callers must not
// call t.SetOnMessage after this.
func NewClient(t Transport) *Client {
	c := &Client{transport: t, pending: newPendingRequests()}
	t.SetOnMessage(c.handleMessage)
	return c
}

// SetOnNotification registers the handler for inbound messages with no id,
// e.g. an upstream's own notifications/tools/list_changed.
func (c *Client) SetOnNotification(f func(Message)) { c.onNotification = f }

func (c *Client) handleMessage(msg Message) {
	if msg.ID != nil {
		if c.pending.deliver(fmt.Sprint(msg.ID), msg) {
			return
		}
	}
	if msg.Method != "" && c.onNotification != nil {
		c.onNotification(msg)
	}
}

// Call sends method with params and blocks for a matching response, failing
// with RequestTimeout if none arrives within timeout.
func (c *Client) Call(ctx context.Context, method string, params any, timeout time.Duration) (Message, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return Message{}, err
	}

	id := fmt.Sprintf("%d", atomic.AddInt64(&c.nextID, 1))
	regID, ch := c.pending.register(id, timeout)

	if err := c.transport.Send(ctx, Message{Jsonrpc: "2.0", ID: regID, Method: method, Params: raw}, &SendOpts{ID: regID}); err != nil {
		return Message{}, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			switch resp.Error.Code {
			case -32001:
				return resp, &Error{Kind: RequestTimeout, Message: resp.Error.Message}
			case -32000:
				return resp, &Error{Kind: TransportClosed, Message: resp.Error.Message}
			default:
				return resp, fmt.Errorf("%s: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
			}
		}
		return resp, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Notify sends method with params as a fire-and-forget notification (no id,
// no response expected).
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, Message{Jsonrpc: "2.0", Method: method, Params: raw}, nil)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, newError(ConnectionFailed, "marshaling request params", err)
	}
	return raw, nil
}
