package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/mcp/transport"
)

// mcpTransportBridge adapts the engine's own transport.Transport interface
// (stdio / HTTP+SSE, auto-detected by transport.Manager) to the MCP SDK's
// mcp.Transport interface, so the SDK's server loop can drive whichever
// transport the Transport Manager selected.
type mcpTransportBridge struct {
	inner  transport.Transport
	logger *logrus.Logger
}

func newMCPTransportBridge(inner transport.Transport, logger *logrus.Logger) mcpsdk.Transport {
	return &mcpTransportBridge{inner: inner, logger: logger}
}

// Connect implements mcp.Transport.
func (b *mcpTransportBridge) Connect(ctx context.Context) (mcpsdk.Connection, error) {
	if err := b.inner.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}
	return &mcpConnectionBridge{inner: b.inner, logger: b.logger}, nil
}

// mcpConnectionBridge adapts one transport.Transport connection to
// mcp.Connection.
type mcpConnectionBridge struct {
	inner  transport.Transport
	logger *logrus.Logger
}

// Read implements mcp.Connection.
func (c *mcpConnectionBridge) Read(ctx context.Context) (jsonrpc.Message, error) {
	data, err := c.inner.ReadMessage()
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read from transport: %w", err)
	}
	if len(data) == 0 {
		return nil, io.EOF
	}
	msg, err := parseJSONRPCMessage(data)
	if err != nil {
		c.logger.WithError(err).WithField("data", string(data)).Error("failed to parse JSON-RPC message")
		return nil, fmt.Errorf("failed to parse JSON-RPC message: %w", err)
	}
	return msg, nil
}

// Write implements mcp.Connection.
func (c *mcpConnectionBridge) Write(ctx context.Context, msg jsonrpc.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}
	return c.inner.WriteMessage(data)
}

// Close implements mcp.Connection.
func (c *mcpConnectionBridge) Close() error {
	return c.inner.Close()
}

// SessionID implements mcp.Connection.
func (c *mcpConnectionBridge) SessionID() string {
	return "mapper-mcp-session"
}

// parseJSONRPCMessage parses a raw JSON-RPC message into a jsonrpc.Message,
// distinguishing a request/notification from a response by the presence of
// a method field.
func parseJSONRPCMessage(raw json.RawMessage) (jsonrpc.Message, error) {
	var base struct {
		Method string          `json:"method,omitempty"`
		ID     json.RawMessage `json:"id,omitempty"`
	}
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC message: %w", err)
	}

	if base.Method != "" {
		var req jsonrpc.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("invalid JSON-RPC request: %w", err)
		}
		return &req, nil
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %w", err)
	}
	return &resp, nil
}
