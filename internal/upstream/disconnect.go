package upstream

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/transport"
)

// handleTransportError logs a transport's onerror callback and records it as
// the handle's last-known error. An error of a disconnecting kind also closes
// the live transport, so its onclose follows even where the transport itself
// reports the error without closing (an SSE "event: error" frame). The actual
// disconnection bookkeeping always runs from handleTransportClose.
func (m *Manager) handleTransportError(name string, err error) {
	logger := m.logger.With(zap.String("server", name))

	var terr *transport.Error
	promote := errors.As(err, &terr) && isDisconnectingKind(terr.Kind)
	if promote {
		logger.Warn("transport error will promote to disconnection", zap.String("kind", string(terr.Kind)), zap.Error(err))
	} else {
		logger.Error("transport error", zap.Error(err))
	}

	if h := m.getHandle(name); h != nil {
		h.mu.Lock()
		h.lastError = err.Error()
		tr := h.transport
		h.mu.Unlock()
		if promote && tr != nil {
			go func() { _ = tr.Close() }()
		}
	}
}

// isDisconnectingKind reports whether kind represents a connection-level
// failure rather than a request-level one, replacing the teacher's
// "connection"/"closed" substring heuristic with explicit Kind checks per
// SPEC_FULL.md's Open Question decision. The set below is exactly the
// teacher's substring match would have selected: connection_reset,
// connection_failed, connection_timeout all contain "connection";
// transport_closed contains "closed".
func isDisconnectingKind(kind transport.Kind) bool {
	switch kind {
	case transport.ConnectionReset, transport.ConnectionFailed, transport.ConnectionTimeout, transport.TransportClosed:
		return true
	default:
		return false
	}
}

// handleUnexpectedClose is the onReconnect hook SSE/WebSocket transports
// invoke for an abnormal close or stream error, ahead of their own onclose.
// It exists purely so the log line reads as "this is a reconnect-worthy
// event" rather than waiting silently for onclose; handleTransportClose owns
// all actual state transitions.
func (m *Manager) handleUnexpectedClose(name string) {
	m.logger.Warn("transport signaled an abnormal close", zap.String("server", name))
}

// handleTransportClose runs on every transport close, clean or not: it
// removes the server's tools, emits server.disconnected, frees the
// Client/Transport handles, and — unless the disconnect was manual —
// schedules a reconnect when the server is configured for it.
func (m *Manager) handleTransportClose(name string) {
	h := m.getHandle(name)
	if h == nil {
		return
	}

	h.mu.Lock()
	if h.state == StateDisconnected {
		h.mu.Unlock()
		return
	}
	manual := h.manualDisconnect
	lastErr := h.lastError
	autoReconnect := h.cfg.AutoReconnect
	cfg := h.cfg
	h.state = StateDisconnected
	h.transport = nil
	h.client = nil
	h.mu.Unlock()

	m.registry.RemoveServerTools(name)

	var disconnectErr error
	if !manual && lastErr != "" {
		disconnectErr = errors.New(lastErr)
	}
	m.emit(name, EventDisconnected, disconnectErr)

	m.logger.Info("server disconnected", zap.String("server", name), zap.Bool("manual", manual), zap.Bool("autoReconnect", autoReconnect))

	if manual || !autoReconnect {
		return
	}

	h.mu.Lock()
	h.state = StateReconnecting
	h.mu.Unlock()

	h.reconnectMgr.ScheduleReconnection(func() { m.attemptReconnect(&cfg, h) })
}

// attemptReconnect is the function ScheduleReconnection's timer invokes for
// every backoff attempt; on failure it reschedules itself unless the server
// was manually disconnected in the meantime.
func (m *Manager) attemptReconnect(cfg *config.TargetServer, h *serverHandle) {
	if err := m.ConnectToSingleServer(context.Background(), cfg); err != nil {
		h.mu.Lock()
		h.lastError = err.Error()
		stillWanted := !h.manualDisconnect
		h.mu.Unlock()
		if stillWanted {
			h.reconnectMgr.ScheduleReconnection(func() { m.attemptReconnect(cfg, h) })
		}
	}
}
