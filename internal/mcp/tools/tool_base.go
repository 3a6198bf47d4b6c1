package tools

import (
	"encoding/json"
	"fmt"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
)

// ParseParams parses and validates generic parameters from interface{} to a
// target struct, eliminating the duplicate marshal/unmarshal pattern
// repeated across every tool handler.
func ParseParams(params interface{}, target interface{}) error {
	if params == nil {
		return fmt.Errorf("missing required parameters")
	}

	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal parameters: %w", err)
	}

	if err := json.Unmarshal(paramsBytes, target); err != nil {
		return fmt.Errorf("failed to parse parameters: %w", err)
	}

	return nil
}

// errorResponse converts a domain-layer error into a JSON-RPC error
// response, mapping MappingError kinds to the closest JSON-RPC/MCP error
// code (spec §7).
func errorResponse(err error) *protocol.JSONRPC2Response {
	if mappingErr, ok := err.(*domain.MappingError); ok {
		return &protocol.JSONRPC2Response{
			Error: &protocol.RPCError{
				Code:    mappingErrorCode(mappingErr.Kind),
				Message: mappingErr.Message,
				Data:    mappingErr.Error(),
			},
		}
	}
	if validationErr, ok := err.(*domain.ValidationError); ok {
		return &protocol.JSONRPC2Response{
			Error: &protocol.RPCError{
				Code:    protocol.InvalidParams,
				Message: validationErr.Message,
				Data:    validationErr.Field,
			},
		}
	}
	return &protocol.JSONRPC2Response{
		Error: &protocol.RPCError{
			Code:    protocol.MCPToolError,
			Message: "tool execution failed",
			Data:    err.Error(),
		},
	}
}

func mappingErrorCode(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindInvalidInput, domain.ErrKindUnknownSystem, domain.ErrKindRuleValidationError:
		return protocol.InvalidParams
	case domain.ErrKindTimeout:
		return protocol.MCPResourceError
	case domain.ErrKindVocabularyUnavailable, domain.ErrKindCacheError, domain.ErrKindRuleStoreError, domain.ErrKindInternalError:
		return protocol.MCPToolError
	default:
		return protocol.InternalError
	}
}

func missingParamsResponse(err error) *protocol.JSONRPC2Response {
	return &protocol.JSONRPC2Response{
		Error: &protocol.RPCError{
			Code:    protocol.InvalidParams,
			Message: "invalid parameters",
			Data:    err.Error(),
		},
	}
}
