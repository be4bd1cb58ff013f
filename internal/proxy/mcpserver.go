package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// HostServer adapts Core to mark3labs/mcp-go's server.MCPServer: the
// host-facing MCP surface spec.md §1 treats as an external collaborator.
// Unlike the teacher, which registers a small fixed meta-tool set once at
// startup, HostServer mirrors the Tool Registry's exposed set into
// AddTool/DeleteTools calls every time it changes, so the downstream host
// sees exactly the upstream-discovered catalog this gateway is multiplexing.
type HostServer struct {
	mcp    *mcpserver.MCPServer
	core   *Core
	logger *zap.Logger

	mu         sync.Mutex
	registered map[string]bool
}

// NewHostServer builds the host-facing server and performs an initial sync
// against whatever the registry already holds.
func NewHostServer(core *Core, logger *zap.Logger) *HostServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpSrv := mcpserver.NewMCPServer(
		"mcpmux-gateway",
		"0.1.0",
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	hs := &HostServer{
		mcp:        mcpSrv,
		core:       core,
		logger:     logger.Named("proxy.host"),
		registered: make(map[string]bool),
	}
	hs.SyncTools()
	return hs
}

// SyncTools mirrors the registry's currently exposed tools into the
// underlying mcp-go server, adding new/changed tools and removing ones no
// longer exposed. Wire this as the Tool Registry's OnListChanged callback,
// and call it after every server.connected/server.disconnected/enableTools
// event per spec.md §4.7. mcp-go sends notifications/tools/list_changed
// itself on AddTool/DeleteTools when tool capabilities advertise
// listChanged=true; failures there are its own concern to log, not ours to
// propagate.
func (hs *HostServer) SyncTools() {
	tools := hs.core.ListTools()

	want := make(map[string]bool, len(tools))
	for _, t := range tools {
		want[t.FullName] = true

		mt := mcp.Tool{
			Name:        t.FullName,
			Description: t.Definition.Description,
			InputSchema: toMCPInputSchema(t.Definition.InputSchema),
		}
		hs.mcp.AddTool(mt, hs.handlerFor(t.FullName))
	}

	hs.mu.Lock()
	var stale []string
	for name := range hs.registered {
		if !want[name] {
			stale = append(stale, name)
		}
	}
	hs.registered = want
	hs.mu.Unlock()

	if len(stale) > 0 {
		hs.mcp.DeleteTools(stale...)
	}
}

// toMCPInputSchema converts an upstream tool's loosely-typed JSON Schema
// (decoded straight off the wire in listTools) into mcp-go's typed
// ToolInputSchema. Unrecognized shapes degrade to an empty object schema
// rather than failing the whole sync.
func toMCPInputSchema(schema map[string]any) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object"}

	if t, ok := schema["type"].(string); ok && t != "" {
		out.Type = t
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		out.Properties = props
	}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

func (hs *HostServer) handlerFor(fullName string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)

		result, err := hs.core.CallTool(ctx, fullName, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if result.IsError {
			return mcp.NewToolResultError(errorText(result.Content)), nil
		}

		switch content := result.Content.(type) {
		case string:
			return mcp.NewToolResultText(content), nil
		case json.RawMessage:
			return mcp.NewToolResultText(string(content)), nil
		default:
			encoded, err := json.Marshal(content)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return mcp.NewToolResultText(string(encoded)), nil
		}
	}
}

// errorText extracts the human-readable message from a ToolResult built by
// errorResult, falling back to a generic message if the shape is unexpected.
func errorText(content any) string {
	blocks, ok := content.([]map[string]any)
	if !ok || len(blocks) == 0 {
		return fmt.Sprintf("%v", content)
	}
	text, _ := blocks[0]["text"].(string)
	if text == "" {
		return fmt.Sprintf("%v", content)
	}
	return text
}

// ServeStdio runs the host-facing server over stdio until the host
// disconnects, per spec.md §6's host-facing wire protocol.
func (hs *HostServer) ServeStdio() error {
	return mcpserver.ServeStdio(hs.mcp)
}

// HTTPHandler exposes the host-facing server over Streamable HTTP, for
// deployments that front the gateway with a network listener instead of
// stdio.
func (hs *HostServer) HTTPHandler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(hs.mcp)
}
