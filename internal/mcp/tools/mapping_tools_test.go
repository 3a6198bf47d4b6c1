package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

func TestMapTermTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{
		mapTermResult: &domain.MappingResult{
			Term:         "aspirin",
			TotalMatches: 1,
			PerSystem: map[domain.System][]domain.MappingCandidate{
				domain.SystemRxNorm: {{Code: "1191", System: domain.SystemRxNorm, Display: "Aspirin", Confidence: 0.98}},
			},
		},
	}
	tool := NewMapTermTool(testLogger(), coordinator)

	req := &protocol.JSONRPC2Request{
		Method: "map_term",
		Params: map[string]interface{}{"text": "aspirin", "systems": []string{"RxNorm"}},
	}

	resp := tool.HandleTool(context.Background(), req)

	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})["result"].(*domain.MappingResult)
	assert.Equal(t, "aspirin", coordinator.lastTermReq.Text)
	assert.Equal(t, []domain.System{domain.SystemRxNorm}, coordinator.lastTermReq.Systems)
	assert.Equal(t, 1, result.TotalMatches)
}

func TestMapTermTool_HandleTool_MissingParams(t *testing.T) {
	tool := NewMapTermTool(testLogger(), &stubCoordinator{})

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "map_term", Params: nil})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestMapTermTool_HandleTool_CoordinatorError(t *testing.T) {
	coordinator := &stubCoordinator{mapTermErr: domain.NewInvalidInputError("text must not be empty")}
	tool := NewMapTermTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{
		Method: "map_term",
		Params: map[string]interface{}{"text": ""},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestMapTermTool_GetToolInfo(t *testing.T) {
	tool := NewMapTermTool(testLogger(), &stubCoordinator{})
	info := tool.GetToolInfo()

	assert.Equal(t, "map_term", info.Name)
	assert.NotEmpty(t, info.Description)
	assert.NotNil(t, info.InputSchema)
}

func TestMapTermTool_ValidateParams(t *testing.T) {
	tool := NewMapTermTool(testLogger(), &stubCoordinator{})

	assert.NoError(t, tool.ValidateParams(map[string]interface{}{"text": "metformin"}))
}

func TestMapTermsBatchTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{
		batchResult: &domain.BatchResult{SuccessCount: 2, FailureCount: 0},
	}
	tool := NewMapTermsBatchTool(testLogger(), coordinator)

	req := &protocol.JSONRPC2Request{
		Method: "map_terms_batch",
		Params: map[string]interface{}{
			"terms": []map[string]interface{}{
				{"text": "aspirin"},
				{"text": "ibuprofen"},
			},
		},
	}

	resp := tool.HandleTool(context.Background(), req)

	require.Nil(t, resp.Error)
	assert.Len(t, coordinator.lastBatchReqs, 2)
	batch := resp.Result.(map[string]interface{})["result"].(*domain.BatchResult)
	assert.Equal(t, 2, batch.SuccessCount)
}

func TestMapTermsBatchTool_HandleTool_RejectsEmptyTerms(t *testing.T) {
	tool := NewMapTermsBatchTool(testLogger(), &stubCoordinator{})

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{
		Method: "map_terms_batch",
		Params: map[string]interface{}{"terms": []map[string]interface{}{}},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.InvalidParams, resp.Error.Code)
}

func TestMapTermsBatchTool_ValidateParams_RejectsEmptyTerms(t *testing.T) {
	tool := NewMapTermsBatchTool(testLogger(), &stubCoordinator{})

	err := tool.ValidateParams(map[string]interface{}{"terms": []map[string]interface{}{}})

	require.Error(t, err)
}

func TestGetSystemsInfoTool_HandleTool_Success(t *testing.T) {
	coordinator := &stubCoordinator{
		systemsInfo: []domain.SystemInfo{
			{Name: "SNOMED", DisplayName: "SNOMED CT", ConceptCount: 100, Supported: true},
		},
	}
	tool := NewGetSystemsInfoTool(testLogger(), coordinator)

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "get_systems_info"})

	require.Nil(t, resp.Error)
	infos := resp.Result.(map[string]interface{})["systems"].([]domain.SystemInfo)
	assert.Len(t, infos, 1)
	assert.Equal(t, "SNOMED", infos[0].Name)
}

func TestGetSystemsInfoTool_HandleTool_CoordinatorError(t *testing.T) {
	tool := NewGetSystemsInfoTool(testLogger(), &stubCoordinator{systemsErr: errStub})

	resp := tool.HandleTool(context.Background(), &protocol.JSONRPC2Request{Method: "get_systems_info"})

	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MCPToolError, resp.Error.Code)
}

func TestGetSystemsInfoTool_ValidateParams_AcceptsNil(t *testing.T) {
	tool := NewGetSystemsInfoTool(testLogger(), &stubCoordinator{})
	assert.NoError(t, tool.ValidateParams(nil))
}
