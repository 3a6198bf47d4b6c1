package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

func newTestRegistry(coordinator domain.MappingCoordinator) *ToolRegistry {
	router := protocol.NewMessageRouter(testLogger())
	return NewToolRegistry(testLogger(), router, coordinator)
}

func TestToolRegistry_RegisterAllTools(t *testing.T) {
	registry := newTestRegistry(&stubCoordinator{})

	require.NoError(t, registry.RegisterAllTools())

	infos := registry.GetRegisteredToolsInfo()
	names := make(map[string]bool, len(infos))
	for _, info := range infos {
		names[info.Name] = true
	}

	for _, want := range []string{
		"map_term", "map_terms_batch", "get_systems_info",
		"add_rule", "update_rule", "delete_rule",
		"export_rules", "import_rules",
	} {
		assert.True(t, names[want], "expected tool %q to be registered", want)
	}
}

func TestToolRegistry_ValidateAllTools(t *testing.T) {
	registry := newTestRegistry(&stubCoordinator{})
	require.NoError(t, registry.RegisterAllTools())

	assert.NoError(t, registry.ValidateAllTools())
}

func TestToolRegistry_ExecuteTool_Dispatches(t *testing.T) {
	coordinator := &stubCoordinator{systemsInfo: []domain.SystemInfo{{Name: "SNOMED"}}}
	registry := newTestRegistry(coordinator)
	require.NoError(t, registry.RegisterAllTools())

	resp := registry.ExecuteTool(context.Background(), &protocol.JSONRPC2Request{Method: "get_systems_info"})

	require.Nil(t, resp.Error)
}

func TestToolRegistry_ExecuteTool_MethodNotFound(t *testing.T) {
	registry := newTestRegistry(&stubCoordinator{})
	require.NoError(t, registry.RegisterAllTools())

	resp := registry.ExecuteTool(context.Background(), &protocol.JSONRPC2Request{Method: "does_not_exist"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}
