// Package api implements the mapping engine's REST gateway: a thin
// gin-gonic HTTP surface over the same Mapping Coordinator the MCP server
// exposes as tools, plus direct concept lookup endpoints backed by the
// Query Optimizer.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/cache"
	"github.com/clinterm/mapper-mcp-server/internal/config"
	"github.com/clinterm/mapper-mcp-server/internal/context"
	"github.com/clinterm/mapper-mcp-server/internal/coordinator"
	"github.com/clinterm/mapper-mcp-server/internal/database"
	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/executor"
	"github.com/clinterm/mapper-mcp-server/internal/fuzzy"
	"github.com/clinterm/mapper-mcp-server/internal/middleware"
	"github.com/clinterm/mapper-mcp-server/internal/normalizer"
	"github.com/clinterm/mapper-mcp-server/internal/optimization"
	"github.com/clinterm/mapper-mcp-server/internal/rules"
	"github.com/clinterm/mapper-mcp-server/internal/vocabulary"
)

// Server is the REST gateway over the mapping engine.
type Server struct {
	configManager *config.Manager
	router        *gin.Engine
	server        *http.Server

	coordinator domain.MappingCoordinator
	optimizer   *optimization.QueryOptimizer

	db    *database.DB
	vocab *vocabulary.Store
	cache *cache.Cache
	log   *logrus.Logger
}

// NewServer wires the same engine components the MCP server uses into an
// HTTP router, plus a Query Optimizer over the vocabulary store's raw SQLite
// handles for direct code lookup and prefix search.
func NewServer(configManager *config.Manager) (*Server, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg := configManager.GetConfig()
	ctx := context.Background()

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

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

	termNormalizer := normalizer.New(normalizer.DefaultConfig())
	fuzzyMatcher := fuzzy.New(vocabStore)
	contextAnalyzer := context.New(context.DefaultConfig())
	exec := executor.New(cfg.Workers)

	mappingCoordinator := coordinator.New(
		termNormalizer, vocabStore, fuzzyMatcher, contextAnalyzer,
		rulesEngine, cacheLayer, exec, cfg.Fuzzy, logger,
	)

	optimizerDBs := make(map[domain.System]*sql.DB)
	for _, system := range vocabStore.SupportedSystems() {
		sysDB, err := vocabStore.DB(system)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to obtain raw handle for %s: %w", system, err)
		}
		optimizerDBs[system] = sysDB
	}

	optimizer, err := optimization.New(optimization.QueryOptimizerConfig{
		DBs:                      optimizerDBs,
		EnableQueryCache:         true,
		EnablePreparedStatements: true,
		EnableQueryStats:         true,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create query optimizer: %w", err)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(30 * time.Second))

	server := &Server{
		configManager: configManager,
		router:        router,
		coordinator:   mappingCoordinator,
		optimizer:     optimizer,
		db:            db,
		vocab:         vocabStore,
		cache:         cacheLayer,
		log:           logger,
	}

	server.setupRoutes()

	return server, nil
}

// Start runs the HTTP server until ctx is cancelled, then gracefully
// shuts it down.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetConfig().Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("REST gateway failed to start: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.cache.InvalidateAll(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("failed to flush cache on shutdown")
	}
	s.db.Close()

	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/map", s.handleMapTerm)
		v1.POST("/map/batch", s.handleMapTermsBatch)
		v1.GET("/systems", s.handleGetSystemsInfo)

		rulesGroup := v1.Group("/rules")
		{
			rulesGroup.POST("", s.handleAddRule)
			rulesGroup.PUT("/:rule_id", s.handleUpdateRule)
			rulesGroup.DELETE("/:rule_id", s.handleDeleteRule)
			rulesGroup.GET("/export", s.handleExportRules)
			rulesGroup.POST("/import", s.handleImportRules)
		}

		concepts := v1.Group("/concepts/:system")
		{
			concepts.GET("/:code", s.handleLookupByCode)
			concepts.GET("", s.handlePrefixScan)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"optimizer_ready": s.optimizer.IsHealthy(),
	})
}
