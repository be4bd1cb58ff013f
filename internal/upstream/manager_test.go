package upstream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/envresolver"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/registry"
	"github.com/mcpmux/gateway/internal/transport"
)

// writeFakeUpstream writes a tiny shell script that speaks just enough MCP
// over stdio to satisfy one connect: it replies to the handshake's initialize
// request, ignores the notifications/initialized notification, replies to
// tools/list with one tool, then blocks so the transport stays open.
func writeFakeUpstream(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-upstream.sh")
	script := `#!/bin/sh
read -r _
printf '{"jsonrpc":"2.0","id":"1","result":{"protocolVersion":"2024-11-05","capabilities":{},"serverInfo":{"name":"fake","version":"1.0"}}}\n'
read -r _
read -r _
printf '{"jsonrpc":"2.0","id":"2","result":{"tools":[{"name":"echo","description":"echoes input","inputSchema":{"type":"object"}}]}}\n'
cat >/dev/null
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry) {
	t.Helper()
	reg := registry.New(nil, nil, nil)
	m := New(reg, envresolver.New(nil, nil), oauthcoord.New(nil), nil, "", nil, nil)
	return m, reg
}

func TestConnectToSingleServerDiscoversTools(t *testing.T) {
	script := writeFakeUpstream(t)
	m, reg := newTestManager(t)

	cfg := &config.TargetServer{
		Name:          "fake",
		Enabled:       true,
		AutoReconnect: false,
		Transport:     config.TransportConfig{Kind: config.TransportStdio, Command: "sh", Args: []string{script}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.ConnectToSingleServer(ctx, cfg))

	tools := reg.GetExposedTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "fake__echo", tools[0].FullName)

	infos := m.Info()
	require.Len(t, infos, 1)
	assert.Equal(t, StateConnected, infos[0].State)

	require.NoError(t, m.DisconnectServer("fake"))
}

func TestDisconnectServerRemovesToolsAndPreventsAutoReconnect(t *testing.T) {
	script := writeFakeUpstream(t)
	m, reg := newTestManager(t)

	cfg := &config.TargetServer{
		Name:          "fake",
		Enabled:       true,
		AutoReconnect: true,
		Transport:     config.TransportConfig{Kind: config.TransportStdio, Command: "sh", Args: []string{script}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.ConnectToSingleServer(ctx, cfg))
	require.Len(t, reg.GetExposedTools(), 1)

	require.NoError(t, m.DisconnectServer("fake"))

	// handleTransportClose runs on the transport's own goroutine.
	require.Eventually(t, func() bool {
		return len(reg.GetExposedTools()) == 0
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		infos := m.Info()
		return len(infos) == 1 && infos[0].State == StateDisconnected
	}, time.Second, 10*time.Millisecond)
}

func TestReconnectServerRejectsWhenAlreadyConnected(t *testing.T) {
	script := writeFakeUpstream(t)
	m, _ := newTestManager(t)

	cfg := &config.TargetServer{
		Name:      "fake",
		Enabled:   true,
		Transport: config.TransportConfig{Kind: config.TransportStdio, Command: "sh", Args: []string{script}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.ConnectToSingleServer(ctx, cfg))

	err := m.ReconnectServer(ctx, "fake")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")

	require.NoError(t, m.DisconnectServer("fake"))
}

func TestReconnectServerRejectsUnknownName(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.ReconnectServer(context.Background(), "ghost")
	require.Error(t, err)
}

func TestIsDisconnectingKindMatchesTeacherSubstringHeuristic(t *testing.T) {
	disconnecting := []transport.Kind{transport.ConnectionReset, transport.ConnectionFailed, transport.ConnectionTimeout, transport.TransportClosed}
	for _, k := range disconnecting {
		assert.True(t, isDisconnectingKind(k), k)
	}
	notDisconnecting := []transport.Kind{transport.Unauthorized, transport.RequestTimeout, transport.ServiceUnavailable}
	for _, k := range notDisconnecting {
		assert.False(t, isDisconnectingKind(k), k)
	}
}
