package tools

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

// MapTermTool implements the map_term MCP tool: single-term mapping across
// one or more clinical terminology systems (spec §4.9).
type MapTermTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// MapTermParams defines parameters for the map_term tool.
type MapTermParams struct {
	Text                string                `json:"text"`
	Systems             []string              `json:"systems,omitempty"`
	Threshold           float64               `json:"threshold,omitempty"`
	Algorithms          []string              `json:"algorithms,omitempty"`
	MaxResultsPerSystem int                   `json:"max_results_per_system,omitempty"`
	Context             *MapTermContextParams `json:"context,omitempty"`
}

// MapTermContextParams is the JSON shape of clinical context accepted from
// a tool caller.
type MapTermContextParams struct {
	SurroundingText string            `json:"surrounding_text,omitempty"`
	DomainHint      string            `json:"domain_hint,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewMapTermTool creates a new map_term tool.
func NewMapTermTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *MapTermTool {
	return &MapTermTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for map_term.
func (t *MapTermTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	start := time.Now()

	var params MapTermParams
	if err := ParseParams(req.Params, &params); err != nil {
		return missingParamsResponse(err)
	}

	termReq, err := params.toTermRequest()
	if err != nil {
		return errorResponse(err)
	}

	result, err := t.coordinator.MapTerm(ctx, termReq)
	if err != nil {
		return errorResponse(err)
	}

	t.logger.WithFields(logrus.Fields{
		"term":            params.Text,
		"total_matches":   result.TotalMatches,
		"processing_time": time.Since(start).String(),
	}).Info("map_term completed")

	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"result": result,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *MapTermTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "map_term",
		Description: "Map a clinical term to coded concepts across SNOMED CT, LOINC, and RxNorm with fuzzy matching, context-aware confidence adjustment, and custom rule overrides",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Free-text clinical term to map",
				},
				"systems": map[string]interface{}{
					"type":        "array",
					"description": "Target vocabulary systems; defaults to all configured systems",
					"items":       map[string]interface{}{"type": "string", "enum": []string{"SNOMED", "LOINC", "RxNorm"}},
				},
				"threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum fuzzy match confidence in [0,1]; defaults to the configured threshold",
				},
				"algorithms": map[string]interface{}{
					"type":        "array",
					"description": "Fuzzy algorithms to run; defaults to all enabled algorithms",
					"items":       map[string]interface{}{"type": "string"},
				},
				"max_results_per_system": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum candidates returned per system; defaults to 10",
				},
				"context": map[string]interface{}{
					"type":        "object",
					"description": "Optional surrounding clinical text for negation/uncertainty/domain detection",
					"properties": map[string]interface{}{
						"surrounding_text": map[string]interface{}{"type": "string"},
						"domain_hint":      map[string]interface{}{"type": "string"},
						"metadata":         map[string]interface{}{"type": "object"},
					},
				},
			},
			"required": []string{"text"},
		},
	}
}

// ValidateParams validates tool parameters.
func (t *MapTermTool) ValidateParams(params interface{}) error {
	var p MapTermParams
	if err := ParseParams(params, &p); err != nil {
		return err
	}
	_, err := p.toTermRequest()
	return err
}

func (p MapTermParams) toTermRequest() (domain.TermRequest, error) {
	systems := make([]domain.System, 0, len(p.Systems))
	for _, s := range p.Systems {
		systems = append(systems, domain.System(s))
	}
	algorithms := make([]domain.FuzzyAlgorithm, 0, len(p.Algorithms))
	for _, a := range p.Algorithms {
		algorithms = append(algorithms, domain.FuzzyAlgorithm(a))
	}

	req := domain.TermRequest{
		Text:                p.Text,
		Systems:             systems,
		Threshold:           p.Threshold,
		Algorithms:          algorithms,
		MaxResultsPerSystem: p.MaxResultsPerSystem,
	}
	if p.Context != nil {
		req.Context = &domain.ContextInput{
			SurroundingText: p.Context.SurroundingText,
			DomainHint:      domain.Domain(p.Context.DomainHint),
			Metadata:        p.Context.Metadata,
		}
	}
	return req, nil
}

// MapTermsBatchTool implements the map_terms_batch MCP tool: parallel
// mapping of many terms through the Parallel Executor (spec §4.8, §4.9).
type MapTermsBatchTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// MapTermsBatchParams defines parameters for the map_terms_batch tool.
type MapTermsBatchParams struct {
	Terms []MapTermParams `json:"terms"`
}

// NewMapTermsBatchTool creates a new map_terms_batch tool.
func NewMapTermsBatchTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *MapTermsBatchTool {
	return &MapTermsBatchTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for map_terms_batch.
func (t *MapTermsBatchTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	var params MapTermsBatchParams
	if err := ParseParams(req.Params, &params); err != nil {
		return missingParamsResponse(err)
	}
	if len(params.Terms) == 0 {
		return missingParamsResponse(domain.NewInvalidInputError("terms must be non-empty"))
	}

	reqs := make([]domain.TermRequest, 0, len(params.Terms))
	for _, p := range params.Terms {
		termReq, err := p.toTermRequest()
		if err != nil {
			return errorResponse(err)
		}
		reqs = append(reqs, termReq)
	}

	batch, err := t.coordinator.MapTermsBatch(ctx, reqs)
	if err != nil {
		return errorResponse(err)
	}

	t.logger.WithFields(logrus.Fields{
		"term_count":    len(reqs),
		"success_count": batch.SuccessCount,
		"failure_count": batch.FailureCount,
	}).Info("map_terms_batch completed")

	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"result": batch,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *MapTermsBatchTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "map_terms_batch",
		Description: "Map many clinical terms in one call, processed concurrently by the parallel executor",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"terms": map[string]interface{}{
					"type":        "array",
					"description": "Terms to map, each using the same shape as map_term",
					"items":       map[string]interface{}{"type": "object"},
				},
			},
			"required": []string{"terms"},
		},
	}
}

// ValidateParams validates tool parameters.
func (t *MapTermsBatchTool) ValidateParams(params interface{}) error {
	var p MapTermsBatchParams
	if err := ParseParams(params, &p); err != nil {
		return err
	}
	if len(p.Terms) == 0 {
		return domain.NewInvalidInputError("terms must be non-empty")
	}
	return nil
}

// GetSystemsInfoTool implements the get_systems_info MCP tool: reports the
// configured vocabulary systems and their concept counts (spec §6).
type GetSystemsInfoTool struct {
	logger      *logrus.Logger
	coordinator domain.MappingCoordinator
}

// NewGetSystemsInfoTool creates a new get_systems_info tool.
func NewGetSystemsInfoTool(logger *logrus.Logger, coordinator domain.MappingCoordinator) *GetSystemsInfoTool {
	return &GetSystemsInfoTool{logger: logger, coordinator: coordinator}
}

// HandleTool implements the ToolHandler interface for get_systems_info.
func (t *GetSystemsInfoTool) HandleTool(ctx context.Context, req *protocol.JSONRPC2Request) *protocol.JSONRPC2Response {
	infos, err := t.coordinator.GetSystemsInfo(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return &protocol.JSONRPC2Response{
		Result: map[string]interface{}{
			"systems": infos,
		},
	}
}

// GetToolInfo returns tool metadata.
func (t *GetSystemsInfoTool) GetToolInfo() protocol.ToolInfo {
	return protocol.ToolInfo{
		Name:        "get_systems_info",
		Description: "List configured vocabulary systems and their concept counts",
		InputSchema: map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{},
		},
	}
}

// ValidateParams validates tool parameters; get_systems_info takes none.
func (t *GetSystemsInfoTool) ValidateParams(params interface{}) error {
	return nil
}
