// Package upstream implements spec.md §4.6 Connection Manager: the
// lifecycle of every upstream server connection, from transport
// construction through tool discovery to disconnection-triggered
// reconnection.
//
// Grounded on the teacher's internal/upstream/manager.go for the overall
// per-server lifecycle shape and internal/upstream/state.go for the
// connection state enum, rebuilt against internal/transport,
// internal/auth, internal/reconnect, and internal/registry rather than the
// teacher's Docker-isolated core/cli/managed client hierarchy, which this
// spec has no use for.
package upstream

import "time"

// State is one of the five connection states spec.md §3's ServerState
// names, a condensed form of the teacher's richer
// disconnected/connecting/authenticating/discovering/ready/error enum:
// authentication and discovery are sub-phases of "connecting" here, not
// separate observable states.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Event is one of the two lifecycle events the Connection Manager emits to
// its listener, matching spec.md §4.6's server.connected/server.disconnected
// names.
type Event string

const (
	EventConnected    Event = "server.connected"
	EventDisconnected Event = "server.disconnected"
)

// EventListener is notified of connection lifecycle transitions. err is
// non-nil only for EventDisconnected when the disconnect was caused by an
// error rather than a clean close or manual disconnectServer call.
type EventListener func(serverName string, event Event, err error)

// Info is the read-only snapshot callers (status endpoints, tests) can ask
// for without reaching into the Manager's internals.
type Info struct {
	Name        string
	State       State
	ConnectedAt time.Time
	LastError   string
	RetryCount  int
}
