// Package proxy implements spec.md §4.7 Proxy Core: the host-facing
// listTools/callTool dispatch that sits on top of the Tool Registry, the
// local command set, and the Connection Manager's upstream clients.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mcpmux/gateway/internal/commands"
	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/registry"
	"github.com/mcpmux/gateway/internal/upstream"
)

// callToolTimeout bounds a forwarded tools/call against an upstream server.
const callToolTimeout = 30 * time.Second

// postOAuthReconnectDelay is how long after a successful completeOAuthFlow
// the Core waits before sweeping still-disconnected servers, per spec.md
// §4.7.
const postOAuthReconnectDelay = 1 * time.Second

// ToolResult is the callTool return shape, matching the host-facing wire
// protocol's {content, isError} convention.
type ToolResult struct {
	Content any  `json:"content"`
	IsError bool `json:"isError"`
}

// Core owns listTools/callTool/completeOAuthFlow dispatch. It holds no wire
// protocol of its own; internal/proxy/mcpserver.go adapts it to
// mark3labs/mcp-go's server.MCPServer for the host-facing transport.
type Core struct {
	registry *registry.Registry
	commands *commands.Set
	upstream *upstream.Manager
	coord    *oauthcoord.Coordinator
	metrics  *Metrics
	servers  map[string]*config.TargetServer
	logger   *zap.Logger
}

// New creates a Core. metrics may be nil (no-op recording).
func New(reg *registry.Registry, cmds *commands.Set, mgr *upstream.Manager, coord *oauthcoord.Coordinator, metrics *Metrics, servers []*config.TargetServer, logger *zap.Logger) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]*config.TargetServer, len(servers))
	for _, s := range servers {
		byName[s.Name] = s
	}
	return &Core{
		registry: reg,
		commands: cmds,
		upstream: mgr,
		coord:    coord,
		metrics:  metrics,
		servers:  byName,
		logger:   logger.Named("proxy"),
	}
}

// ListTools returns every tool currently exposed to the host, per spec.md
// §4.7.
func (c *Core) ListTools() []*registry.RegisteredTool {
	return c.registry.GetExposedTools()
}

// CallTool dispatches one tools/call by fullName: core tools and commands run
// locally, client-sourced tools forward to their owning upstream server.
// It never returns a Go error for a dispatch failure — every failure is
// reported as {isError: true} per spec.md §4.7, so the host always gets a
// well-formed tool result. CallTool's own error return is reserved for
// cases the host-facing transport layer must treat as a protocol-level
// failure (none currently), keeping the signature open for that.
func (c *Core) CallTool(ctx context.Context, fullName string, args map[string]any) (ToolResult, error) {
	start := time.Now()
	tool := c.registry.GetToolForExecution(fullName)
	if tool == nil {
		c.recordToolCall("", fullName, "not_found", start)
		return errorResult(fmt.Sprintf("Tool not found: %s", fullName)), nil
	}

	switch tool.Source {
	case registry.SourceCommand:
		rawArgs, err := json.Marshal(args)
		if err != nil {
			c.recordToolCall(tool.ServerName, tool.OriginalName, "error", start)
			return errorResult(fmt.Sprintf("encoding arguments: %s", err)), nil
		}
		result, err := c.commands.Dispatch(ctx, tool.OriginalName, rawArgs)
		if err != nil {
			c.recordToolCall(tool.ServerName, tool.OriginalName, "error", start)
			return errorResult(err.Error()), nil
		}
		c.recordToolCall(tool.ServerName, tool.OriginalName, "ok", start)
		return ToolResult{Content: result}, nil

	case registry.SourceCoreTool:
		// No core tools are registered by this gateway today; reserved for
		// future built-ins that need Core's own state rather than
		// commands.Set's isolated dispatch.
		c.recordToolCall(tool.ServerName, tool.OriginalName, "not_found", start)
		return errorResult(fmt.Sprintf("Tool not found: %s", fullName)), nil

	case registry.SourceUpstreamClient:
		result, err := c.callUpstreamTool(ctx, tool, args)
		if err != nil {
			c.recordToolCall(tool.ServerName, tool.OriginalName, "error", start)
			return errorResult(err.Error()), nil
		}
		c.recordToolCall(tool.ServerName, tool.OriginalName, "ok", start)
		return ToolResult{Content: result}, nil

	default:
		c.recordToolCall(tool.ServerName, tool.OriginalName, "not_found", start)
		return errorResult(fmt.Sprintf("Tool not found: %s", fullName)), nil
	}
}

func (c *Core) callUpstreamTool(ctx context.Context, tool *registry.RegisteredTool, args map[string]any) (json.RawMessage, error) {
	client, ok := c.upstream.Client(tool.ServerName)
	if !ok {
		return nil, fmt.Errorf("server %q is not connected", tool.ServerName)
	}

	callCtx, cancel := context.WithTimeout(ctx, callToolTimeout)
	defer cancel()

	if args == nil {
		args = map[string]any{}
	}
	params := map[string]any{
		"name":      tool.OriginalName,
		"arguments": args,
	}
	resp, err := client.Call(callCtx, "tools/call", params, callToolTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s", resp.Error.Message)
	}
	return resp.Result, nil
}

// CompleteOAuthFlow dispatches (state, code) to the OAuth Flow Coordinator's
// owning provider and, on success, schedules a best-effort reconnect sweep
// of every still-disconnected server one second later, per spec.md §4.7.
func (c *Core) CompleteOAuthFlow(ctx context.Context, state, code string) error {
	serverName, ok := c.coord.ServerNameFor(state)
	if !ok {
		return fmt.Errorf("no pending oauth flow for state %q", state)
	}

	provider, ok := c.upstream.AuthCodeProvider(serverName)
	if !ok {
		return fmt.Errorf("server %q has no authorization-code provider", serverName)
	}

	if _, err := provider.Complete(ctx, state, code); err != nil {
		return fmt.Errorf("completing oauth flow for %q: %w", serverName, err)
	}

	go func() {
		time.Sleep(postOAuthReconnectDelay)
		c.reconnectDisconnected()
	}()
	return nil
}

// reconnectDisconnected best-effort reconnects every server not currently
// connected, logging rather than surfacing per-server failures.
func (c *Core) reconnectDisconnected() {
	for _, info := range c.upstream.Info() {
		if info.State == upstream.StateConnected || info.State == upstream.StateConnecting || info.State == upstream.StateReconnecting {
			continue
		}
		cfg, ok := c.servers[info.Name]
		if !ok {
			continue
		}
		if err := c.upstream.ReconnectServer(context.Background(), cfg.Name); err != nil {
			c.logger.Warn("post-oauth reconnect attempt failed", zap.String("server", cfg.Name), zap.Error(err))
		}
	}
}

func (c *Core) recordToolCall(server, tool, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordToolCall(server, tool, status, time.Since(start))
}

func errorResult(message string) ToolResult {
	return ToolResult{
		Content: []map[string]any{{"type": "text", "text": message}},
		IsError: true,
	}
}
