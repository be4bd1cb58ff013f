// Package commands implements spec.md §3's source: command RegisteredTool
// variant: a small set of locally-dispatched tools that never touch an
// upstream transport, grounded on the same registry.ToolDefinition shape
// upstream tool discovery uses so the Proxy Core can treat both sources
// uniformly.
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcpmux/gateway/internal/registry"
)

// Handler executes one command tool's call, given its decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Set is the local command-tool surface: name -> (definition, handler).
type Set struct {
	definitions []registry.ToolDefinition
	handlers    map[string]Handler
}

// NewDefaultSet returns the built-in echo/ping command set: a template for
// operators to extend, and exercised directly by this package's tests.
func NewDefaultSet() *Set {
	s := &Set{handlers: make(map[string]Handler)}
	s.register(registry.ToolDefinition{
		Name:        "ping",
		Description: "Replies pong; used to verify the gateway's local command dispatch path is alive.",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}, pingHandler)
	s.register(registry.ToolDefinition{
		Name:        "echo",
		Description: "Echoes the \"message\" argument back verbatim.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []string{"message"},
		},
	}, echoHandler)
	return s
}

func (s *Set) register(def registry.ToolDefinition, h Handler) {
	s.definitions = append(s.definitions, def)
	s.handlers[def.Name] = h
}

// Definitions returns every command tool's definition, for registration into
// the Tool Registry under registry.SourceCommand.
func (s *Set) Definitions() []registry.ToolDefinition {
	return s.definitions
}

// Dispatch runs the handler registered for originalName with the given raw
// JSON arguments.
func (s *Set) Dispatch(ctx context.Context, originalName string, rawArgs json.RawMessage) (any, error) {
	h, ok := s.handlers[originalName]
	if !ok {
		return nil, fmt.Errorf("command %q is not registered", originalName)
	}

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return nil, fmt.Errorf("decoding arguments for command %q: %w", originalName, err)
		}
	}
	return h(ctx, args)
}

func pingHandler(_ context.Context, _ map[string]any) (any, error) {
	return "pong", nil
}

func echoHandler(_ context.Context, args map[string]any) (any, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		return nil, fmt.Errorf("echo requires a non-empty \"message\" argument")
	}
	return msg, nil
}
