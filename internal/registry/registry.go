// Package registry implements spec.md §4.5 Tool Registry: merges discovered
// tools across upstream servers with collision-safe naming, visibility
// filtering by glob pattern, and dynamic enable/disable.
//
// Grounded on the teacher's per-server tool bookkeeping spread across
// internal/upstream/manager.go (the "{serverName}__{originalName}" naming
// convention) and internal/index's glob-pattern idiom, condensed into one
// focused type.
package registry

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Source identifies where a RegisteredTool's implementation lives.
type Source string

const (
	SourceUpstreamClient Source = "upstream-client"
	SourceCoreTool       Source = "core-tool"
	SourceCommand        Source = "command"
)

// ToolDefinition is the wire-level tool shape discovered from an upstream
// listTools call or declared by a core tool.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Visibility tracks whether a tool is currently exposed to the host, and
// whether that exposure came from static configuration or a dynamic
// enableTools call.
type Visibility struct {
	Exposed            bool
	EnabledDynamically bool
	EnabledBy          string
}

// RegisteredTool is the registry's unit of bookkeeping, matching spec.md §3's
// data model exactly.
type RegisteredTool struct {
	FullName     string
	OriginalName string
	ServerName   string
	Definition   ToolDefinition
	Source       Source
	Visibility   Visibility
	Discovered   bool
}

// FullName derives the collision-safe registry key for an upstream or core
// tool, per spec.md §3's invariant.
func FullName(source Source, serverName, originalName string) string {
	if source == SourceUpstreamClient {
		return serverName + "__" + originalName
	}
	return originalName
}

// OnListChanged is invoked whenever the exposed tool set changes, so the
// Proxy Core can emit notifications/tools/list_changed. Failures in the
// callback are the caller's concern; the registry itself never fails a
// mutation because a notification could not be delivered.
type OnListChanged func()

// Registry holds the merged tool set across all connected servers. All
// mutation is serialized through its public API, per spec.md §7's "the Tool
// Registry is the only significant shared-mutable structure" policy.
type Registry struct {
	mu              sync.RWMutex
	tools           map[string]*RegisteredTool
	exposePatterns  []string
	onListChanged   OnListChanged
	logger          *zap.Logger
}

// New creates a registry. exposePatterns is the static exposeTools
// configuration; a nil/empty slice means "expose all" per spec.md §4.5.
func New(exposePatterns []string, onListChanged OnListChanged, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		tools:          make(map[string]*RegisteredTool),
		exposePatterns: exposePatterns,
		onListChanged:  onListChanged,
		logger:         logger.Named("registry"),
	}
}

// RegisterDiscoveredTool adds or replaces a tool. Re-registering the same
// {fullName, serverName} pair replaces the definition (the rediscovery
// path); registering a fullName already owned by a *different* serverName is
// a programmer error and panics, per spec.md §4.5's invariant.
func (r *Registry) RegisterDiscoveredTool(serverName string, def ToolDefinition, source Source) *RegisteredTool {
	fullName := FullName(source, serverName, def.Name)

	r.mu.Lock()
	existing, ok := r.tools[fullName]
	if ok && existing.ServerName != serverName {
		r.mu.Unlock()
		panic(fmt.Sprintf("registry: fullName collision %q between servers %q and %q", fullName, existing.ServerName, serverName))
	}

	rt := &RegisteredTool{
		FullName:     fullName,
		OriginalName: def.Name,
		ServerName:   serverName,
		Definition:   def,
		Source:       source,
		Discovered:   true,
	}
	if ok {
		rt.Visibility = existing.Visibility
	}
	rt.Visibility.Exposed = r.isStaticallyExposedLocked(source, fullName) || rt.Visibility.EnabledDynamically
	r.tools[fullName] = rt
	r.mu.Unlock()

	r.notifyListChanged()
	return rt
}

// RemoveServerTools drops every tool owned by serverName, e.g. on
// disconnect, before the transport has fully closed. Core tools are never
// removed this way, even if a misconfigured server reused the reserved core
// server name, per spec.md §4.5's invariant that core tools always survive.
func (r *Registry) RemoveServerTools(serverName string) {
	r.mu.Lock()
	removed := false
	for name, t := range r.tools {
		if t.ServerName == serverName && t.Source != SourceCoreTool {
			delete(r.tools, name)
			removed = true
		}
	}
	r.mu.Unlock()

	if removed {
		r.notifyListChanged()
	}
}

// Get returns the tool registered under fullName, or nil if none exists.
func (r *Registry) Get(fullName string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[fullName]
}

// GetToolForExecution is an alias for Get matching spec.md §4.5's naming;
// dispatch code should use it so the intent at the call site reads clearly.
func (r *Registry) GetToolForExecution(fullName string) *RegisteredTool {
	return r.Get(fullName)
}

// GetExposedTools returns every tool currently visible to the host.
func (r *Registry) GetExposedTools() []*RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*RegisteredTool, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Visibility.Exposed {
			out = append(out, t)
		}
	}
	return out
}

// GetAllTools returns every registered tool regardless of exposure.
func (r *Registry) GetAllTools() []*RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*RegisteredTool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// EnableTools marks names as dynamically enabled by source, overriding any
// exposeTools exclusion (spec.md §9's Open Question decision: dynamic enable
// wins over static exposure). Idempotent: enabling an already-enabled tool
// twice leaves registry state unchanged.
func (r *Registry) EnableTools(names []string, source string) {
	r.mu.Lock()
	changed := false
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		if !t.Visibility.EnabledDynamically || !t.Visibility.Exposed {
			changed = true
		}
		t.Visibility.EnabledDynamically = true
		t.Visibility.EnabledBy = source
		t.Visibility.Exposed = true
	}
	r.mu.Unlock()

	if changed {
		r.notifyListChanged()
	}
}

// isStaticallyExposedLocked reports whether fullName matches the configured
// exposeTools patterns. Core tools always bypass the filter. Callers must
// hold r.mu.
func (r *Registry) isStaticallyExposedLocked(source Source, fullName string) bool {
	if source == SourceCoreTool {
		return true
	}
	if len(r.exposePatterns) == 0 {
		return true
	}
	for _, pattern := range r.exposePatterns {
		if pattern == fullName {
			return true
		}
		if matched, err := filepath.Match(pattern, fullName); err == nil && matched {
			return true
		}
	}
	return false
}

func (r *Registry) notifyListChanged() {
	if r.onListChanged == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("recovered panic in listChanged callback", zap.Any("panic", rec))
		}
	}()
	r.onListChanged()
}
