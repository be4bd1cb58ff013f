package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/auth"
	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/envresolver"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/reconnect"
	"github.com/mcpmux/gateway/internal/registry"
	"github.com/mcpmux/gateway/internal/transport"
)

const (
	// toolDiscoveryTimeout bounds the tools/list call during connect, per
	// spec.md §4.6.
	toolDiscoveryTimeout = 5 * time.Second
	// initializeTimeout bounds the MCP handshake preceding tool discovery.
	initializeTimeout = 10 * time.Second
)

// protocolVersion is the MCP protocol version this gateway speaks when
// initializing upstream connections.
const protocolVersion = "2024-11-05"

// serverHandle is the Connection Manager's bookkeeping for one configured
// upstream server, alive for the process lifetime regardless of connection
// state (only the transport/client handles come and go).
type serverHandle struct {
	mu sync.Mutex

	cfg config.TargetServer

	state       State
	connectedAt time.Time
	lastError   string

	transport       transport.Transport
	client          *transport.Client
	rawAuthProvider auth.Provider

	reconnectMgr *reconnect.Manager

	manualDisconnect bool
	reconnecting     bool
}

// Manager owns the full lifecycle of every configured upstream server, per
// spec.md §4.6.
type Manager struct {
	mu      sync.Mutex
	servers map[string]*serverHandle

	registry    *registry.Registry
	envResolver *envresolver.Resolver
	coord       *oauthcoord.Coordinator
	httpClient  *http.Client
	dataDir     string
	logger      *zap.Logger
	listener    EventListener
}

// New creates a Manager. listener may be nil. dataDir is where the bolt
// token-storage fallback keeps its database; an empty dataDir means that
// fallback degrades straight to in-memory storage.
func New(reg *registry.Registry, envResolver *envresolver.Resolver, coord *oauthcoord.Coordinator, httpClient *http.Client, dataDir string, listener EventListener, logger *zap.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		servers:     make(map[string]*serverHandle),
		registry:    reg,
		envResolver: envResolver,
		coord:       coord,
		httpClient:  httpClient,
		dataDir:     dataDir,
		listener:    listener,
		logger:      logger.Named("upstream"),
	}
}

// Info returns a snapshot of every known server's connection state.
func (m *Manager) Info() []Info {
	m.mu.Lock()
	handles := make([]*serverHandle, 0, len(m.servers))
	for _, h := range m.servers {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, Info{
			Name:        h.cfg.Name,
			State:       h.state,
			ConnectedAt: h.connectedAt,
			LastError:   h.lastError,
			RetryCount:  h.reconnectMgr.Attempts(),
		})
		h.mu.Unlock()
	}
	return out
}

// Client returns the live RPC client for a connected server, so the Proxy
// Core can forward a callTool invocation to it. ok is false if the server is
// unknown or not currently connected.
func (m *Manager) Client(serverName string) (client *transport.Client, ok bool) {
	h := m.getHandle(serverName)
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.client == nil {
		return nil, false
	}
	return h.client, true
}

// AuthCodeProvider returns the *auth.AuthCodeProvider backing serverName, if
// any, so the Proxy Core can complete an authorization-code flow once the
// host callback delivers a state/code pair. ok is false for servers with no
// auth, bearer/client-credentials auth, or that have never connected.
func (m *Manager) AuthCodeProvider(serverName string) (*auth.AuthCodeProvider, bool) {
	h := m.getHandle(serverName)
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.rawAuthProvider.(*auth.AuthCodeProvider)
	return p, ok
}

// ConnectToTargetServers fans connectToSingleServer out over every server in
// servers, awaiting all of them; one server's failure does not abort the
// others, per spec.md §4.6.
func (m *Manager) ConnectToTargetServers(ctx context.Context, servers []*config.TargetServer) {
	var wg sync.WaitGroup
	succeeded, failed := 0, 0
	var countMu sync.Mutex

	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		wg.Add(1)
		go func(s *config.TargetServer) {
			defer wg.Done()
			err := m.ConnectToSingleServer(ctx, s)
			countMu.Lock()
			if err != nil {
				failed++
			} else {
				succeeded++
			}
			countMu.Unlock()
		}(s)
	}
	wg.Wait()

	m.logger.Info("initial connection sweep complete", zap.Int("succeeded", succeeded), zap.Int("failed", failed))
}

// ConnectToSingleServer builds the resolved environment, constructs the
// transport (with auth), opens the MCP client, discovers tools with a
// bounded timeout, registers them, and emits server.connected — in that
// order, per spec.md §4.6's ordering guarantee.
func (m *Manager) ConnectToSingleServer(ctx context.Context, cfg *config.TargetServer) error {
	handle := m.getOrCreateHandle(cfg)

	handle.mu.Lock()
	handle.cfg = *cfg
	handle.manualDisconnect = false
	handle.state = StateConnecting
	handle.mu.Unlock()

	logger := m.logger.With(zap.String("server", cfg.Name))

	env, err := m.envResolver.Resolve(ctx, cfg.Env)
	if err != nil {
		m.recordFailure(handle, fmt.Errorf("resolving environment: %w", err))
		return err
	}

	authProvider, rawAuthProvider, err := buildAuthProvider(cfg.Name, cfg.Auth, m.coord, m.httpClient, m.dataDir, logger)
	if err != nil {
		m.recordFailure(handle, err)
		return err
	}

	tr, err := buildTransport(*cfg, env, authProvider, m.httpClient, func() { m.handleUnexpectedClose(cfg.Name) }, logger)
	if err != nil {
		m.recordFailure(handle, err)
		return err
	}

	tr.SetOnError(func(err error) { m.handleTransportError(cfg.Name, err) })
	tr.SetOnClose(func() { m.handleTransportClose(cfg.Name) })

	startCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()
	if err := tr.Start(startCtx); err != nil {
		m.recordFailure(handle, fmt.Errorf("starting transport: %w", err))
		return err
	}

	client := transport.NewClient(tr)
	if err := m.handshake(startCtx, client, cfg.Name); err != nil {
		_ = tr.Close()
		m.recordFailure(handle, fmt.Errorf("initializing: %w", err))
		return err
	}

	discoverCtx, cancelDiscover := context.WithTimeout(ctx, toolDiscoveryTimeout)
	defer cancelDiscover()
	tools, err := listTools(discoverCtx, client)
	if err != nil {
		_ = tr.Close()
		m.recordFailure(handle, fmt.Errorf("listing tools: %w", err))
		return err
	}

	for _, def := range tools {
		m.registry.RegisterDiscoveredTool(cfg.Name, def, registry.SourceUpstreamClient)
	}

	handle.mu.Lock()
	handle.transport = tr
	handle.client = client
	handle.rawAuthProvider = rawAuthProvider
	handle.state = StateConnected
	handle.connectedAt = time.Now()
	handle.lastError = ""
	handle.mu.Unlock()
	handle.reconnectMgr.MarkConnected()

	logger.Info("server connected", zap.Int("tools", len(tools)))
	m.emit(cfg.Name, EventConnected, nil)
	return nil
}

// DisconnectServer marks name manually disconnected, cancels any pending
// reconnection, and closes its transport.
func (m *Manager) DisconnectServer(name string) error {
	handle := m.getHandle(name)
	if handle == nil {
		return fmt.Errorf("server %q is not configured", name)
	}

	handle.mu.Lock()
	handle.manualDisconnect = true
	tr := handle.transport
	handle.mu.Unlock()

	handle.reconnectMgr.Cancel()

	if tr == nil {
		return nil
	}
	if err := tr.Close(); err != nil {
		return fmt.Errorf("closing transport for %q: %w", name, err)
	}
	return nil
}

// ReconnectServer re-runs ConnectToSingleServer against the stored config.
// It rejects if the server is already connected or a manual reconnect is
// already in flight: a concurrent caller for the same name gets the "already
// reconnecting" error rather than waiting for the in-flight attempt.
func (m *Manager) ReconnectServer(ctx context.Context, name string) error {
	handle := m.getHandle(name)
	if handle == nil {
		return fmt.Errorf("server %q is not configured", name)
	}

	handle.mu.Lock()
	if handle.state == StateConnected {
		handle.mu.Unlock()
		return fmt.Errorf("server %q is already connected", name)
	}
	if handle.reconnecting {
		handle.mu.Unlock()
		return fmt.Errorf("server %q is already reconnecting", name)
	}
	handle.reconnecting = true
	handle.manualDisconnect = false
	cfg := handle.cfg
	handle.mu.Unlock()

	defer func() {
		handle.mu.Lock()
		handle.reconnecting = false
		handle.mu.Unlock()
	}()

	if err := m.ConnectToSingleServer(ctx, &cfg); err != nil {
		handle.mu.Lock()
		handle.lastError = err.Error()
		handle.mu.Unlock()
		return err
	}
	return nil
}

func (m *Manager) getOrCreateHandle(cfg *config.TargetServer) *serverHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.servers[cfg.Name]; ok {
		return h
	}
	logger := m.logger.With(zap.String("server", cfg.Name))
	h := &serverHandle{
		cfg:   *cfg,
		state: StateDisconnected,
	}
	h.reconnectMgr = reconnect.New(reconnect.DefaultParams(), func() {
		logger.Warn("giving up reconnecting after max attempts")
	}, logger)
	m.servers[cfg.Name] = h
	return h
}

func (m *Manager) getHandle(name string) *serverHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.servers[name]
}

func (m *Manager) recordFailure(h *serverHandle, err error) {
	h.mu.Lock()
	h.state = StateFailed
	h.lastError = err.Error()
	h.mu.Unlock()
	m.logger.Error("connect failed", zap.String("server", h.cfg.Name), zap.Error(err))
}

func (m *Manager) emit(name string, event Event, err error) {
	if m.listener == nil {
		return
	}
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				m.logger.Error("recovered panic in connection listener", zap.Any("panic", rec))
			}
		}()
		m.listener(name, event, err)
	}()
}

// handshake performs the MCP initialize request/notification pair before any
// tool discovery, per the protocol's handshake requirement.
func (m *Manager) handshake(ctx context.Context, client *transport.Client, serverName string) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "mcpmux-gateway",
			"version": "0.1.0",
		},
	}
	resp, err := client.Call(ctx, "initialize", params, initializeTimeout)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("server %q rejected initialize: %s", serverName, resp.Error.Message)
	}
	return client.Notify(ctx, "notifications/initialized", nil)
}

// listTools issues a tools/list call and decodes the result into
// registry.ToolDefinition records.
func listTools(ctx context.Context, client *transport.Client) ([]registry.ToolDefinition, error) {
	resp, err := client.Call(ctx, "tools/list", map[string]any{}, toolDiscoveryTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("tools/list failed: %s", resp.Error.Message)
	}

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decoding tools/list result: %w", err)
	}

	out := make([]registry.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		out = append(out, registry.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out, nil
}
