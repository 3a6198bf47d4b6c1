package protocol

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

// TestSessionManager tests session management
func TestSessionManager(t *testing.T) {
	logger, _ := test.NewNullLogger()
	sessionMgr := NewSessionManager(logger)

	clientID := "test-client"
	capabilities := map[string]interface{}{
		"client": map[string]interface{}{
			"name":    "test-client",
			"version": "1.0.0",
		},
	}

	// Test session creation
	err := sessionMgr.CreateSession(clientID, capabilities)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Test session retrieval
	session, exists := sessionMgr.GetSession(clientID)
	if !exists {
		t.Fatal("Session not found")
	}

	if session.ClientName != "test-client" {
		t.Errorf("Expected client name 'test-client', got %s", session.ClientName)
	}

	// Test activity update
	oldActivity := session.LastActivity
	time.Sleep(time.Millisecond) // Ensure time difference
	sessionMgr.UpdateClientActivity(clientID)

	session, _ = sessionMgr.GetSession(clientID)
	if !session.LastActivity.After(oldActivity) {
		t.Error("Activity timestamp was not updated")
	}

	// Test session cleanup
	sessionMgr.RemoveSession(clientID)
	_, exists = sessionMgr.GetSession(clientID)
	if exists {
		t.Error("Session should have been removed")
	}
}

// TestRateLimiter tests rate limiting functionality
func TestRateLimiter(t *testing.T) {
	logger, _ := test.NewNullLogger()
	rateLimiter := NewRateLimiter(logger)

	clientID := "test-client"

	// Initialize client
	rateLimiter.InitializeClient(clientID)

	// Test allowing requests within limits
	for i := 0; i < 5; i++ {
		if !rateLimiter.AllowRequest(clientID) {
			t.Errorf("Request %d should have been allowed", i+1)
		}
	}

	// Test burst limit (should eventually be blocked)
	blocked := false
	for i := 0; i < 20; i++ {
		if !rateLimiter.AllowRequest(clientID) {
			blocked = true
			break
		}
	}

	if !blocked {
		t.Error("Rate limiter should have blocked requests after burst limit")
	}

	// Test stats
	stats := rateLimiter.GetStats()
	if stats["total_clients"].(int) != 1 {
		t.Errorf("Expected 1 client, got %v", stats["total_clients"])
	}
}

// TestMessageRouter tests a fresh router's stats and the lookup of an unregistered tool
func TestMessageRouter(t *testing.T) {
	logger, _ := test.NewNullLogger()
	router := NewMessageRouter(logger)

	stats := router.GetStats()
	if stats["registered_tools"].(int) != 0 {
		t.Errorf("Expected 0 registered tools on a fresh router, got %v", stats["registered_tools"])
	}

	if _, exists := router.GetToolHandler("map_term"); exists {
		t.Error("Unregistered tool should not be found")
	}
}

// TestErrorCodes tests JSON-RPC error code constants
func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected int
	}{
		{"ParseError", ParseError, -32700},
		{"InvalidRequest", InvalidRequest, -32600},
		{"MethodNotFound", MethodNotFound, -32601},
		{"InvalidParams", InvalidParams, -32602},
		{"InternalError", InternalError, -32603},
		{"MCPUnauthorized", MCPUnauthorized, -32000},
		{"MCPRateLimited", MCPRateLimited, -32001},
		{"MCPResourceError", MCPResourceError, -32002},
		{"MCPToolError", MCPToolError, -32003},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.code != tt.expected {
				t.Errorf("Expected %s to be %d, got %d", tt.name, tt.expected, tt.code)
			}
		})
	}
}
