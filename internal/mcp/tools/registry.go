package tools

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

// ToolRegistry manages registration of every mapping-domain MCP tool.
type ToolRegistry struct {
	logger      *logrus.Logger
	router      *protocol.MessageRouter
	coordinator domain.MappingCoordinator
}

// NewToolRegistry creates a new tool registry wired to the mapping
// coordinator that backs every tool's domain logic.
func NewToolRegistry(logger *logrus.Logger, router *protocol.MessageRouter, coordinator domain.MappingCoordinator) *ToolRegistry {
	return &ToolRegistry{
		logger:      logger,
		router:      router,
		coordinator: coordinator,
	}
}

// RegisterAllTools registers every mapping and rule-management tool with the
// MCP message router.
func (tr *ToolRegistry) RegisterAllTools() error {
	tr.logger.Info("Registering mapping tools")

	tr.router.RegisterToolHandler("map_term", NewMapTermTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("map_terms_batch", NewMapTermsBatchTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("get_systems_info", NewGetSystemsInfoTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("add_rule", NewAddRuleTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("update_rule", NewUpdateRuleTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("delete_rule", NewDeleteRuleTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("export_rules", NewExportRulesTool(tr.logger, tr.coordinator))
	tr.router.RegisterToolHandler("import_rules", NewImportRulesTool(tr.logger, tr.coordinator))

	tr.logger.Info("Successfully registered all mapping tools")
	return nil
}

// GetRegisteredToolsInfo returns metadata for every registered tool.
func (tr *ToolRegistry) GetRegisteredToolsInfo() []protocol.ToolInfo {
	toolHandlers := tr.router.GetToolHandlers()
	toolsInfo := make([]protocol.ToolInfo, 0, len(toolHandlers))
	for _, handler := range toolHandlers {
		toolsInfo = append(toolsInfo, handler.GetToolInfo())
	}
	return toolsInfo
}

// ValidateAllTools checks that every registered tool exposes complete
// metadata.
func (tr *ToolRegistry) ValidateAllTools() error {
	tr.logger.Info("Validating all registered tools")

	toolHandlers := tr.router.GetToolHandlers()
	for name, handler := range toolHandlers {
		toolInfo := handler.GetToolInfo()
		if toolInfo.Name == "" {
			tr.logger.WithField("tool", name).Error("Tool missing name")
			continue
		}
		if toolInfo.Description == "" {
			tr.logger.WithField("tool", name).Warn("Tool missing description")
		}
		if toolInfo.InputSchema == nil {
			tr.logger.WithField("tool", name).Warn("Tool missing input schema")
		}
	}

	tr.logger.Info("Tool validation completed")
	return nil
}

// ExecuteTool looks up a registered tool by name and invokes it, returning a
// method-not-found error response when no such tool is registered. This is
// the entry point the MCP SDK bridge uses to dispatch a CallToolRequest.
func (tr *ToolRegistry) ExecuteTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	handler, exists := tr.router.GetToolHandler(req.Method)
	if !exists {
		return &protocol.JSONRPC2Response{
			Error: &protocol.RPCError{
				Code:    protocol.MethodNotFound,
				Message: "tool not found",
				Data:    req.Method,
			},
		}
	}
	return handler.HandleTool(ctx, req)
}
