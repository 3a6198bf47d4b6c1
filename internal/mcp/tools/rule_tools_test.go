package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

func validRuleParams() map[string]interface{} {
	return map[string]interface{}{
		"rule_type":   "EXACT_MATCH",
		"priority":    "HIGH",
		"source_term": "heart attack",
		"target": map[string]interface{}{
			"code":    "22298006",
			"system":  "SNOMED",
			"display": "Myocardial infarction",
		},
	}
}

func TestAddRuleTool_HandleTool_GeneratesRuleID(t *testing.T) {
	coordinator := &stubCoordinator{}
	tool := NewAddRuleTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{
		Method: "add_rule",
		Params: validRuleParams(),
	})

	require.Nil(t, resp.Error)
	require.NotNil(t, coordinator.lastAddedRule)
	assert.NotEmpty(t, coordinator.lastAddedRule.RuleID)
	assert.True(t, coordinator.lastAddedRule.IsActive)
	assert.False(t, coordinator.lastAddedRule.CreatedAt.IsZero())
}

func TestAddRuleTool_HandleTool_PreservesSuppliedRuleID(t *testing.T) {
	coordinator := &stubCoordinator{}
	tool := NewAddRuleTool(testLogger(), coordinator)

	params := validRuleParams()
	params["rule_id"] = "custom-rule-1"

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "add_rule", Params: params})

	require.Nil(t, resp.Error)
	assert.Equal(t, "custom-rule-1", coordinator.lastAddedRule.RuleID)
}

func TestAddRuleTool_HandleTool_CoordinatorError(t *testing.T) {
	coordinator := &stubCoordinator{addRuleErr: domain.NewValidationError("source_term", "source_term is required", "")}
	tool := NewAddRuleTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "add_rule", Params: validRuleParams()})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestUpdateRuleTool_HandleTool_RequiresRuleID(t *testing.T) {
	tool := NewUpdateRuleTool(testLogger(), &stubCoordinator{})

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "update_rule", Params: validRuleParams()})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestUpdateRuleTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{}
	tool := NewUpdateRuleTool(testLogger(), coordinator)

	params := validRuleParams()
	params["rule_id"] = "rule-1"

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "update_rule", Params: params})

	require.Nil(t, resp.Error)
	assert.Equal(t, "rule-1", coordinator.lastUpdatedRule.RuleID)
	assert.False(t, coordinator.lastUpdatedRule.UpdatedAt.IsZero())
}

func TestDeleteRuleTool_HandleTool_RequiresRuleID(t *testing.T) {
	tool := NewDeleteRuleTool(testLogger(), &stubCoordinator{})

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "delete_rule", Params: map[string]interface{}{}})

	require.NotNil(t, resp.Error)
}

func TestDeleteRuleTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{}
	tool := NewDeleteRuleTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{
		Method: "delete_rule",
		Params: map[string]interface{}{"rule_id": "rule-1"},
	})

	require.Nil(t, resp.Error)
	assert.Equal(t, "rule-1", coordinator.lastDeletedID)
	assert.Equal(t, "rule-1", resp.Result.(map[string]interface{})["rule_id"])
}

func TestExportRulesTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{exportResult: &domain.RuleExport{Rules: []domain.CustomRule{{RuleID: "rule-1"}}}}
	tool := NewExportRulesTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "export_rules"})

	require.Nil(t, resp.Error)
	export := resp.Result.(map[string]interface{})["export"].(*domain.RuleExport)
	assert.Len(t, export.Rules, 1)
}

func TestImportRulesTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{importCount: 2}
	tool := NewImportRulesTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{
		Method: "import_rules",
		Params: map[string]interface{}{
			"rules": []map[string]interface{}{validRuleParams(), validRuleParams()},
		},
	})

	require.Nil(t, resp.Error)
	assert.Len(t, coordinator.lastImport.Rules, 2)
	assert.Equal(t, 2, resp.Result.(map[string]interface{})["imported_count"])
}

func TestImportRulesTool_HandleTool_CoordinatorError(t *testing.T) {
	tool := NewImportRulesTool(testLogger(), &stubCoordinator{importErr: errStub})

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{
		Method: "import_rules",
		Params: map[string]interface{}{"rules": []map[string]interface{}{validRuleParams()}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MCPToolError, resp.Error.Code)
}
