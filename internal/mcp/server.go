// Package mcp implements the mapping engine's MCP server: it wires every
// engine component into a Mapping Coordinator, registers a tool for each
// programmatic operation in spec §6, and serves them over whichever
// transport the Transport Manager selects.
package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/cache"
	"github.com/clinterm/mapper-mcp-server/internal/config"
	"github.com/clinterm/mapper-mcp-server/internal/context"
	"github.com/clinterm/mapper-mcp-server/internal/coordinator"
	"github.com/clinterm/mapper-mcp-server/internal/database"
	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/executor"
	"github.com/clinterm/mapper-mcp-server/internal/fuzzy"
	mcperrors "github.com/clinterm/mapper-mcp-server/internal/mcp/errors"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/monitoring"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/protocol"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/tools"
	"github.com/clinterm/mapper-mcp-server/internal/mcp/transport"
	"github.com/clinterm/mapper-mcp-server/internal/normalizer"
	"github.com/clinterm/mapper-mcp-server/internal/rules"
	"github.com/clinterm/mapper-mcp-server/internal/vocabulary"
)

const serverName = "clinterm-mapper-mcp-server"
const serverVersion = "v0.1.0"

// Server is the mapping engine's MCP server.
type Server struct {
	config          *config.Manager
	mcpServer       *mcpsdk.Server
	transportMgr    *transport.Manager
	activeTransport transport.Transport
	toolRegistry    *tools.ToolRegistry
	db              *database.DB
	vocab           *vocabulary.Store
	cache           *cache.Cache
	logger          *logrus.Logger
	runtime         *toolRuntime
}

// NewServer wires every engine component into a Mapping Coordinator and
// registers its operations as MCP tools.
func NewServer(configManager *config.Manager) (*Server, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := configManager.GetConfig()
	ctx := context.Background()

	vocabStore, err := vocabulary.Open(ctx, cfg.DataDir, domain.AllSystems(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open vocabulary store: %w", err)
	}

	db, err := database.NewConnectionWithRetry(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		Database:    cfg.Database.Database,
		Username:    cfg.Database.Username,
		Password:    cfg.Database.Password,
		MaxConns:    int32(cfg.Database.MaxOpenConns),
		MinConns:    int32(cfg.Database.MaxIdleConns),
		MaxConnLife: cfg.Database.ConnMaxLifetime,
		MaxConnIdle: cfg.Database.ConnMaxLifetime,
		SSLMode:     cfg.Database.SSLMode,
	}, 5, 2*time.Second, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rules database: %w", err)
	}

	rulesRepo := rules.NewRepository(db.Pool, logger)
	rulesEngine := rules.NewEngine(rulesRepo, logger)

	cacheLayer, err := cache.New(cfg.Cache, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache layer: %w", err)
	}

	normalizerCfg := normalizer.DefaultConfig()
	termNormalizer := normalizer.New(normalizerCfg)

	fuzzyMatcher := fuzzy.New(vocabStore)

	contextAnalyzer := context.New(context.DefaultConfig())

	exec := executor.New(cfg.Workers)

	mappingCoordinator := coordinator.New(
		termNormalizer,
		vocabStore,
		fuzzyMatcher,
		contextAnalyzer,
		rulesEngine,
		cacheLayer,
		exec,
		cfg.Fuzzy,
		logger,
	)

	mcpConfig := &cfg.MCP
	transportMgr := transport.NewManager(logger, mcpConfig)
	router := protocol.NewMessageRouter(logger)

	toolRegistry := tools.NewToolRegistry(logger, router, mappingCoordinator)
	if err := toolRegistry.RegisterAllTools(); err != nil {
		cacheLayer.InvalidateAll(ctx)
		db.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	if err := toolRegistry.ValidateAllTools(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tool validation failed: %w", err)
	}

	serverInfo := &mcpsdk.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}
	mcpServer := mcpsdk.NewServer(serverInfo, nil)

	toolRT := newToolRuntime(
		logger,
		mcperrors.NewCircuitBreakerManager(mcperrors.CircuitBreakerConfig{}),
		mcperrors.NewErrorManager(logger, mcperrors.ErrorManagerConfig{
			EnableDegradation:     true,
			EnableRecovery:        true,
			EnableCircuitBreaker:  true,
			DetailedErrorMessages: true,
		}),
		monitoring.NewMetricsCollector(logger, monitoring.MetricsConfig{
			EnableCollection:    true,
			EnableHistograms:    true,
			EnableResourceUsage: false,
		}),
	)

	server := &Server{
		config:       configManager,
		mcpServer:    mcpServer,
		transportMgr: transportMgr,
		toolRegistry: toolRegistry,
		db:           db,
		vocab:        vocabStore,
		cache:        cacheLayer,
		logger:       logger,
		runtime:      toolRT,
	}

	if err := server.registerMCPTools(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register MCP tools with SDK: %w", err)
	}

	return server, nil
}

// registerMCPTools bridges every tool in the registry into the MCP SDK's
// own tool table.
func (s *Server) registerMCPTools() error {
	toolsInfo := s.toolRegistry.GetRegisteredToolsInfo()

	for _, toolInfo := range toolsInfo {
		toolDef := &mcpsdk.Tool{
			Name:        toolInfo.Name,
			Description: toolInfo.Description,
		}
		handler := newMCPToolHandler(s.toolRegistry, toolInfo.Name, s.logger, s.runtime)
		s.mcpServer.AddTool(toolDef, handler)
		s.logger.WithField("tool_name", toolInfo.Name).Debug("registered MCP tool")
	}

	s.logger.WithField("tool_count", len(toolsInfo)).Info("registered all tools with MCP SDK")
	return nil
}

// ExecuteTool runs one registered tool directly against the underlying
// registry, bypassing the SDK transport. It exists for callers that drive
// the engine programmatically, such as the benchmarking harness.
func (s *Server) ExecuteTool(ctx context.Context, toolName string, params interface{}) *protocol.JSONRPC2Response {
	return s.toolRegistry.ExecuteTool(ctx, &protocol.JSONRPC2Request{
		JSONRPC: "2.0",
		Method:  toolName,
		Params:  params,
	})
}

// Start starts the configured transport and runs the MCP server loop until
// ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting mapping MCP server")

	activeTransport, err := s.transportMgr.StartTransport(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	s.activeTransport = activeTransport
	s.logger.WithField("transport_type", activeTransport.GetType()).Info("transport initialized")

	bridge := newMCPTransportBridge(activeTransport, s.logger)

	if err := s.mcpServer.Run(ctx, bridge); err != nil {
		s.activeTransport.Close()
		return fmt.Errorf("MCP server failed: %w", err)
	}

	return nil
}

// Close releases every resource the server opened.
func (s *Server) Close() error {
	if s.runtime != nil {
		s.logger.WithFields(logrus.Fields{
			"tool_metrics":  s.runtime.metrics.GetMetrics().ToolInvocations.Value,
			"error_stats":   s.runtime.errors.GetErrorStats(),
			"limiter_stats": s.runtime.limiter.GetStats(),
			"session_stats": s.runtime.sessions.GetStats(),
		}).Info("final tool runtime metrics")
	}
	if s.activeTransport != nil {
		s.activeTransport.Close()
	}
	if s.cache != nil {
		s.cache.InvalidateAll(context.Background())
	}
	if s.db != nil {
		s.db.Close()
	}
	if s.vocab != nil {
		s.vocab.Close()
	}
	return nil
}
