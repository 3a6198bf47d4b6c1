package tools

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

// ruleParams is the wire shape of a custom rule shared by add_rule and
// update_rule (spec §4.5).
type ruleParams struct {
	RuleID     string            `json:"rule_id,omitempty"`
	RuleType   string            `json:"rule_type"`
	Priority   string            `json:"priority"`
	SourceTerm string            `json:"source_term"`
	Target     ruleTargetParams  `json:"target"`
	Conditions map[string]any    `json:"conditions,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IsActive   bool              `json:"is_active"`
}

type ruleTargetParams struct {
	Code    string `json:"code"`
	System  string `json:"system"`
	Display string `json:"display"`
}

func (p ruleParams) toCustomRule() *domain.CustomRule {
	return &domain.CustomRule{
		RuleID:     p.RuleID,
		RuleType:   domain.RuleType(p.RuleType),
		Priority:   domain.Priority(p.Priority),
		SourceTerm: p.SourceTerm,
		Target: domain.RuleTarget{
			Code:    p.Target.Code,
			System:  domain.System(p.Target.System),
			Display: p.Target.Display,
		},
		Conditions: p.Conditions,
		Metadata:   p.Metadata,
		IsActive:   p.IsActive,
	}
}

func ruleInputSchema(requireRuleID bool) map[string]interface{} {
	required := []string{"rule_type", "priority", "source_term", "target"}
	if requireRuleID {
		required = append([]string{"rule_id"}, required...)
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule_id":     map[string]interface{}{"type": "string"},
			"rule_type":   map[string]interface{}{"type": "string", "enum": []string{"EXACT_MATCH", "PATTERN_MATCH", "CONTEXT_DEPENDENT", "DOMAIN_SPECIFIC", "MANUAL_OVERRIDE"}},
			"priority":    map[string]interface{}{"type": "string", "enum": []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"}},
			"source_term": map[string]interface{}{"type": "string"},
			"target": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"code":    map[string]interface{}{"type": "string"},
					"system":  map[string]interface{}{"type": "string", "enum": []string{"SNOMED", "LOINC", "RxNorm"}},
					"display": map[string]interface{}{"type": "string"},
				},
				"required": []string{"code", "system", "display"},
			},
			"conditions": map[string]interface{}{"type": "object"},
			"metadata":   map[string]interface{}{"type": "object"},
			"is_active":  map[string]interface{}{"type": "boolean"},
		},
		"required": required,
	}
}

// AddRuleTool implements the add_rule MCP tool.
type AddRuleTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// NewAddRuleTool creates a new add_rule tool.
func NewAddRuleTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *AddRuleTool {
	return &AddRuleTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for add_rule.
func (t *AddRuleTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	var params ruleParams
	if err := ParseParams(req.Params, &params); err != nil {
		return missingParamsResponse(err)
	}

	rule := params.toCustomRule()
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	rule.IsActive = true

	if err := t.coordinator.AddRule(ctx, rule); err != nil {
		return errorResponse(err)
	}

	t.logger.WithField("rule_id", rule.RuleID).Info("add_rule completed")

	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"rule": rule,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *AddRuleTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "add_rule",
		Description: "Create a new custom mapping rule; a rule_id is generated if not supplied",
		InputSchema: ruleInputSchema(false),
	}
}

// ValidateParams validates tool parameters.
func (t *AddRuleTool) ValidateParams(params interface{}) error {
	var p ruleParams
	return ParseParams(params, &p)
}

// UpdateRuleTool implements the update_rule MCP tool.
type UpdateRuleTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// NewUpdateRuleTool creates a new update_rule tool.
func NewUpdateRuleTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *UpdateRuleTool {
	return &UpdateRuleTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for update_rule.
func (t *UpdateRuleTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	var params ruleParams
	if err := ParseParams(req.Params, &params); err != nil {
		return missingParamsResponse(err)
	}
	if params.RuleID == "" {
		return missingParamsResponse(domain.NewInvalidInputError("rule_id is required"))
	}

	rule := params.toCustomRule()
	rule.UpdatedAt = time.Now().UTC()

	if err := t.coordinator.UpdateRule(ctx, rule); err != nil {
		return errorResponse(err)
	}

	t.logger.WithField("rule_id", rule.RuleID).Info("update_rule completed")

	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"rule": rule,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *UpdateRuleTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "update_rule",
		Description: "Update an existing custom mapping rule by rule_id",
		InputSchema: ruleInputSchema(true),
	}
}

// ValidateParams validates tool parameters.
func (t *UpdateRuleTool) ValidateParams(params interface{}) error {
	var p ruleParams
	if err := ParseParams(params, &p); err != nil {
		return err
	}
	if p.RuleID == "" {
		return domain.NewInvalidInputError("rule_id is required")
	}
	return nil
}

// DeleteRuleTool implements the delete_rule MCP tool.
type DeleteRuleTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// DeleteRuleParams defines parameters for the delete_rule tool.
type DeleteRuleParams struct {
	RuleID string `json:"rule_id"`
}

// NewDeleteRuleTool creates a new delete_rule tool.
func NewDeleteRuleTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *DeleteRuleTool {
	return &DeleteRuleTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for delete_rule.
func (t *DeleteRuleTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	var params DeleteRuleParams
	if err := ParseParams(req.Params, &params); err != nil {
		return missingParamsResponse(err)
	}
	if params.RuleID == "" {
		return missingParamsResponse(domain.NewInvalidInputError("rule_id is required"))
	}

	if err := t.coordinator.DeleteRule(ctx, params.RuleID); err != nil {
		return errorResponse(err)
	}

	t.logger.WithField("rule_id", params.RuleID).Info("delete_rule completed")

	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"rule_id":     params.RuleID,
			"deactivated": true,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *DeleteRuleTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "delete_rule",
		Description: "Deactivate a custom mapping rule by rule_id; rules are soft-deleted",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"rule_id": map[string]interface{}{"type": "string"},
			},
			"required": []string{"rule_id"},
		},
	}
}

// ValidateParams validates tool parameters.
func (t *DeleteRuleTool) ValidateParams(params interface{}) error {
	var p DeleteRuleParams
	if err := ParseParams(params, &p); err != nil {
		return err
	}
	if p.RuleID == "" {
		return domain.NewInvalidInputError("rule_id is required")
	}
	return nil
}

// ExportRulesTool implements the export_rules MCP tool.
type ExportRulesTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// NewExportRulesTool creates a new export_rules tool.
func NewExportRulesTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *ExportRulesTool {
	return &ExportRulesTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for export_rules.
func (t *ExportRulesTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	export, err := t.coordinator.ExportRules(ctx)
	if err != nil {
		return errorResponse(err)
	}
	t.logger.WithField("rule_count", len(export.Rules)).Info("export_rules completed")
	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"export": export,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *ExportRulesTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "export_rules",
		Description: "Export every persisted custom rule as a JSON bundle",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

// ValidateParams validates tool parameters; export_rules takes none.
func (t *ExportRulesTool) ValidateParams(params interface{}) error {
	return nil
}

// ImportRulesTool implements the import_rules MCP tool.
type ImportRulesTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// ImportRulesParams defines parameters for the import_rules tool.
type ImportRulesParams struct {
	Rules []ruleParams `json:"rules"`
}

// NewImportRulesTool creates a new import_rules tool.
func NewImportRulesTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *ImportRulesTool {
	return &ImportRulesTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for import_rules.
func (t *ImportRulesTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	var params ImportRulesParams
	if err := ParseParams(req.Params, &params); err != nil {
		return missingParamsResponse(err)
	}

	rules := make([]domain.CustomRule, 0, len(params.Rules))
	for _, p := range params.Rules {
		rules = append(rules, *p.toCustomRule())
	}

	count, err := t.coordinator.ImportRules(ctx, &domain.RuleExport{Rules: rules})
	if err != nil {
		return errorResponse(err)
	}

	t.logger.WithField("imported_count", count).Info("import_rules completed")

	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"imported_count": count,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *ImportRulesTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "import_rules",
		Description: "Bulk-load custom rules from a previously exported JSON bundle",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"rules": map[string]interface{}{
					"type":  "array",
					"items": ruleInputSchema(false),
				},
			},
			"required": []string{"rules"},
		},
	}
}

// ValidateParams validates tool parameters.
func (t *ImportRulesTool) ValidateParams(params interface{}) error {
	var p ImportRulesParams
	return ParseParams(params, &p)
}
