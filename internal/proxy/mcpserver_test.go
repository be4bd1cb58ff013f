package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mcpmux/gateway/internal/commands"
	"github.com/mcpmux/gateway/internal/config"
	"github.com/mcpmux/gateway/internal/envresolver"
	"github.com/mcpmux/gateway/internal/oauthcoord"
	"github.com/mcpmux/gateway/internal/registry"
	"github.com/mcpmux/gateway/internal/upstream"
)

func TestNewHostServerSyncsInitialCommandTools(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	cmds := commands.NewDefaultSet()
	for _, def := range cmds.Definitions() {
		reg.RegisterDiscoveredTool("", def, registry.SourceCommand)
	}

	mgr := upstream.New(reg, envresolver.New(nil, nil), oauthcoord.New(nil), nil, "", nil, nil)
	core := New(reg, cmds, mgr, oauthcoord.New(nil), nil, []*config.TargetServer{}, nil)

	hs := NewHostServer(core, nil)
	assert.Len(t, hs.registered, 2)
	assert.True(t, hs.registered["ping"])
	assert.True(t, hs.registered["echo"])
}

func TestHostServerSyncToolsTracksRemoval(t *testing.T) {
	reg := registry.New(nil, nil, nil)
	cmds := commands.NewDefaultSet()
	mgr := upstream.New(reg, envresolver.New(nil, nil), oauthcoord.New(nil), nil, "", nil, nil)
	core := New(reg, cmds, mgr, oauthcoord.New(nil), nil, []*config.TargetServer{}, nil)

	hs := NewHostServer(core, nil)
	assert.Len(t, hs.registered, 0)

	reg.RegisterDiscoveredTool("fake", registry.ToolDefinition{Name: "echo", Description: "d"}, registry.SourceUpstreamClient)
	hs.SyncTools()
	assert.True(t, hs.registered["fake__echo"])

	reg.RemoveServerTools("fake")
	hs.SyncTools()
	assert.False(t, hs.registered["fake__echo"])
}

func TestToMCPInputSchemaDefaultsToObject(t *testing.T) {
	schema := toMCPInputSchema(nil)
	assert.Equal(t, "object", schema.Type)
}

func TestToMCPInputSchemaCopiesRequiredAndProperties(t *testing.T) {
	schema := toMCPInputSchema(map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	})
	assert.Equal(t, "object", schema.Type)
	assert.Contains(t, schema.Properties, "name")
	assert.Equal(t, []string{"name"}, schema.Required)
}
