package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	mcperrors "github.com/clinterm/mapper-mcp-server/internal/mcp/errors"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/monitoring"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/tools"
)

// stdioClientID identifies the single peer an MCP stdio server process talks
// to. The SDK's ToolHandler signature carries no connection identity, so the
// rate limiter and session tracker below operate on one session per process
// rather than per transport connection.
const stdioClientID = "stdio-client"

// toolRuntime bundles the cross-cutting concerns every registered tool call
// runs through: a per-tool circuit breaker guarding against a coordinator
// that has started failing consistently, structured error correlation,
// invocation metrics, a request-rate limiter, and session bookkeeping.
type toolRuntime struct {
	breakers *mcperrors.CircuitBreakerManager
	errors   *mcperrors.ErrorManager
	metrics  *monitoring.MetricsCollector
	limiter  *protocol.RateLimiter
	sessions *protocol.SessionManager
}

// newToolRuntime builds the runtime and opens the single stdio session it
// tracks for the lifetime of the server.
func newToolRuntime(logger *logrus.Logger, breakers *mcperrors.CircuitBreakerManager, errs *mcperrors.ErrorManager, metrics *monitoring.MetricsCollector) *toolRuntime {
	sessions := protocol.NewSessionManager(logger)
	if err := sessions.CreateSession(stdioClientID, nil); err != nil {
		logger.WithError(err).Warn("failed to open stdio session")
	}

	return &toolRuntime{
		breakers: breakers,
		errors:   errs,
		metrics:  metrics,
		limiter:  protocol.NewRateLimiter(logger),
		sessions: sessions,
	}
}

// degradedServiceFor maps a tool name to the backing service the
// GracefulDegradationManager should attempt a fallback for when that tool's
// circuit breaker trips: mapping tools lean hardest on the Vocabulary Store,
// rule tools (the four rule-mutating tools and export_rules) on the Rules
// Engine store.
func degradedServiceFor(toolName string) string {
	switch toolName {
	case "add_rule", "update_rule", "delete_rule", "export_rules", "import_rules":
		return "rules_engine"
	default:
		return "vocabulary_lookup"
	}
}

// toParamMap best-effort converts a tool call's raw arguments into the
// map[string]interface{} shape the boundary validators operate on. A tool
// called with no arguments, or arguments that don't round-trip through
// JSON as an object, skips validation rather than blocking the call.
func toParamMap(args interface{}) (map[string]interface{}, bool) {
	if args == nil {
		return nil, false
	}
	if m, ok := args.(map[string]interface{}); ok {
		return m, true
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false
	}
	return m, true
}

// newMCPToolHandler bridges one registry tool into an mcp.ToolHandler the
// SDK server can invoke directly.
func newMCPToolHandler(registry *tools.ToolRegistry, toolName string, logger *logrus.Logger, rt *toolRuntime) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		logger.WithField("tool", toolName).Debug("handling MCP tool call")

		if !rt.limiter.AllowRequestForTool(stdioClientID, toolName) {
			rt.sessions.RecordError(stdioClientID)
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{
					&mcpsdk.TextContent{Text: fmt.Sprintf("tool %s rejected: rate limit exceeded", toolName)},
				},
				IsError: true,
			}, nil
		}
		rt.sessions.RecordToolCall(stdioClientID, toolName)

		var args interface{}
		if req.Params != nil {
			args = req.Params.Arguments
		}

		if argMap, ok := toParamMap(args); ok {
			if verr := rt.errors.ValidateToolCall(toolName, argMap); verr != nil {
				rt.sessions.RecordError(stdioClientID)
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{
						&mcpsdk.TextContent{Text: fmt.Sprintf("tool %s rejected: %s", toolName, verr.Error())},
					},
					IsError: true,
				}, nil
			}
		}

		internalReq := &protocol.JSONRPC2Request{
			JSONRPC: "2.0",
			Method:  toolName,
			Params:  args,
		}

		breaker := rt.breakers.GetOrCreateCircuitBreakerForTool(toolName)

		start := time.Now()
		var response *protocol.JSONRPC2Response
		callErr := breaker.Call(ctx, func(ctx context.Context) error {
			response = registry.ExecuteTool(ctx, internalReq)
			if response.Error != nil {
				return fmt.Errorf("%s", response.Error.Message)
			}
			return nil
		})
		duration := time.Since(start)

		if callErr != nil {
			rt.metrics.RecordToolInvocation(toolName, duration, false, false)
			rt.sessions.RecordError(stdioClientID)

			if response == nil {
				// The breaker itself rejected the call before it ran. Try a
				// degraded fallback for the backing service this tool leans
				// on most before giving up entirely.
				if fb, ok := rt.errors.AttemptDegradation(ctx, degradedServiceFor(toolName), callErr); ok {
					logger.WithFields(logrus.Fields{"tool": toolName, "source": fb.Source, "quality": fb.Quality}).
						Warn("serving degraded result after circuit breaker rejection")
					return &mcpsdk.CallToolResult{
						Content: []mcpsdk.Content{
							&mcpsdk.TextContent{Text: fmt.Sprintf("tool %s degraded (%s, quality=%s): service temporarily unavailable", toolName, fb.Source, fb.Quality)},
						},
						IsError: false,
					}, nil
				}

				mcpErr := rt.errors.HandleError(ctx, callErr, map[string]interface{}{"tool": toolName})
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{
						&mcpsdk.TextContent{Text: fmt.Sprintf("tool %s unavailable: %s", toolName, mcpErr.Message)},
					},
					IsError: true,
				}, nil
			}

			mcpErr := rt.errors.HandleError(ctx, callErr, map[string]interface{}{
				"tool":     toolName,
				"rpc_code": response.Error.Code,
			})
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{
					&mcpsdk.TextContent{Text: fmt.Sprintf("tool %s failed [%s]: %s", toolName, mcpErr.CorrelationID, response.Error.Message)},
				},
				IsError: true,
			}, nil
		}

		rt.metrics.RecordToolInvocation(toolName, duration, true, false)

		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{
				&mcpsdk.TextContent{
					Text: fmt.Sprintf("tool %s executed successfully", toolName),
				},
			},
			StructuredContent: response.Result,
		}, nil
	}
}
