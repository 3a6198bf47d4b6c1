package errors

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestErrorManager_HandleError(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := ErrorManagerConfig{
		CorrelationTTL:    time.Hour,
		MaxCorrelations:   1000,
		AuditRetention:    24 * time.Hour,
		EnableRecovery:    true,
		EnableDegradation: true,
	}

	manager := NewErrorManager(logger, config)

	tests := []struct {
		name       string
		err        error
		context    map[string]interface{}
		expectCode int
	}{
		{
			name: "Standard error",
			err:  fmt.Errorf("vocabulary lookup failed"),
			context: map[string]interface{}{
				"service":   "vocabulary_lookup",
				"operation": "map_term",
			},
			expectCode: ErrorInternalError,
		},
		{
			name: "MCP error",
			err: &MCPError{
				Code:    ErrorInvalidParams,
				Message: "Invalid parameters",
			},
			context: map[string]interface{}{
				"tool": "map_term",
			},
			expectCode: ErrorInvalidParams,
		},
		{
			name: "Nil error",
			err:  nil,
			context: map[string]interface{}{
				"tool": "map_term",
			},
			expectCode: ErrorInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := manager.HandleError(context.Background(), tt.err, tt.context)

			assert.NotNil(t, result)
			assert.Equal(t, tt.expectCode, result.Code)
			assert.NotEmpty(t, result.CorrelationID)

			correlations := manager.GetActiveCorrelations()
			found := false
			for _, corr := range correlations {
				if corr.ID == result.CorrelationID {
					found = true
					break
				}
			}
			assert.True(t, found, "Correlation should be created")
		})
	}
}

func TestErrorManager_HandleErrorAttachesRecoveryGuidance(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := ErrorManagerConfig{
		CorrelationTTL:  time.Hour,
		MaxCorrelations: 1000,
		EnableRecovery:  true,
	}

	manager := NewErrorManager(logger, config)

	mcpErr := &MCPError{
		Code:    ErrorServiceUnavailable,
		Message: "rules store connection timeout",
	}

	result := manager.HandleError(context.Background(), mcpErr, map[string]interface{}{
		"tool": "add_rule",
	})

	assert.NotNil(t, result)
	assert.NotEmpty(t, result.Suggestions, "recovery guidance should extend the base suggestions")
}

func TestCircuitBreakerManager_Operations(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := CircuitBreakerConfig{
		DefaultThreshold:     3,
		DefaultTimeout:       5 * time.Second,
		DefaultHalfOpenLimit: 2,
	}

	manager := NewCircuitBreakerManager(config)

	t.Run("Create and retrieve circuit breaker", func(t *testing.T) {
		breaker := manager.GetOrCreateCircuitBreaker("map_term")

		assert.NotNil(t, breaker)
		assert.Equal(t, "map_term", breaker.Name)
		assert.Equal(t, CircuitBreakerClosed, breaker.State)
		assert.Equal(t, 3, breaker.Threshold)

		breaker2 := manager.GetOrCreateCircuitBreaker("map_term")
		assert.Equal(t, breaker, breaker2)
	})

	t.Run("Circuit breaker state transitions", func(t *testing.T) {
		breaker := manager.GetOrCreateCircuitBreaker("add_rule")

		result := breaker.CanExecute()
		assert.True(t, result.Allowed)
		assert.Equal(t, CircuitBreakerClosed, result.State)

		for i := 0; i < 3; i++ {
			breaker.recordResult(false, time.Millisecond)
		}

		assert.Equal(t, CircuitBreakerOpen, breaker.State)

		result = breaker.CanExecute()
		assert.False(t, result.Allowed)
		assert.Equal(t, CircuitBreakerOpen, result.State)
	})

	t.Run("Circuit breaker call with operation", func(t *testing.T) {
		breaker := manager.GetOrCreateCircuitBreaker("export_rules")

		err := breaker.Call(context.Background(), func(ctx context.Context) error {
			return nil
		})
		assert.NoError(t, err)

		err = breaker.Call(context.Background(), func(ctx context.Context) error {
			return fmt.Errorf("operation failed")
		})
		assert.Error(t, err)

		mcpErr, ok := err.(*MCPError)
		assert.False(t, ok || (ok && mcpErr.Code == ErrorServiceUnavailable))
	})

	t.Run("Get metrics", func(t *testing.T) {
		breaker := manager.GetOrCreateCircuitBreaker("get_systems_info")

		breaker.Call(context.Background(), func(ctx context.Context) error { return nil })
		breaker.Call(context.Background(), func(ctx context.Context) error { return fmt.Errorf("error") })

		metrics := breaker.GetMetrics()
		assert.Equal(t, "get_systems_info", metrics.Name)
		assert.True(t, metrics.TotalRequests > 0)
	})
}

func TestToolErrorHandler_Validation(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	handler := NewToolErrorHandler(logger)

	t.Run("Valid map_term call", func(t *testing.T) {
		params := map[string]interface{}{
			"text":      "acute myocardial infarction",
			"systems":   []interface{}{"SNOMED"},
			"threshold": 0.7,
		}

		err := handler.ValidateToolCall("map_term", params)
		assert.NoError(t, err)
	})

	t.Run("Missing required parameter", func(t *testing.T) {
		params := map[string]interface{}{
			"systems": []interface{}{"SNOMED"},
		}

		err := handler.ValidateToolCall("map_term", params)
		assert.Error(t, err)

		toolErr, ok := err.(*ToolError)
		assert.True(t, ok)
		assert.Equal(t, "map_term", toolErr.ToolName)
		assert.True(t, len(toolErr.ValidationErrors) > 0)

		hasTextError := false
		for _, valErr := range toolErr.ValidationErrors {
			if valErr.Parameter == "text" && valErr.Rule == "required" {
				hasTextError = true
				break
			}
		}
		assert.True(t, hasTextError)
	})

	t.Run("Invalid parameter type", func(t *testing.T) {
		params := map[string]interface{}{
			"text":      "fever",
			"threshold": "high", // should be a number
		}

		err := handler.ValidateToolCall("map_term", params)
		assert.Error(t, err)

		toolErr, ok := err.(*ToolError)
		assert.True(t, ok)
		assert.True(t, len(toolErr.ValidationErrors) > 0)
	})

	t.Run("Threshold out of range", func(t *testing.T) {
		params := map[string]interface{}{
			"text":      "fever",
			"threshold": 1.5,
		}

		err := handler.ValidateToolCall("map_term", params)
		assert.Error(t, err)

		toolErr, ok := err.(*ToolError)
		assert.True(t, ok)

		hasRangeError := false
		for _, valErr := range toolErr.ValidationErrors {
			if valErr.Parameter == "threshold" && valErr.Rule == "max_value" {
				hasRangeError = true
				break
			}
		}
		assert.True(t, hasRangeError)
	})

	t.Run("Invalid rule_type enum value", func(t *testing.T) {
		params := map[string]interface{}{
			"source_term": "chest pain",
			"rule_type":   "NOT_A_RULE_TYPE",
			"priority":    "HIGH",
			"target":      map[string]interface{}{"system": "SNOMED", "code": "29857009"},
		}

		err := handler.ValidateToolCall("add_rule", params)
		assert.Error(t, err)

		toolErr, ok := err.(*ToolError)
		assert.True(t, ok)

		hasEnumError := false
		for _, valErr := range toolErr.ValidationErrors {
			if valErr.Parameter == "rule_type" && valErr.Rule == "enum" {
				hasEnumError = true
				break
			}
		}
		assert.True(t, hasEnumError)
	})

	t.Run("map_terms_batch rejects an empty batch", func(t *testing.T) {
		params := map[string]interface{}{
			"terms": []interface{}{},
		}

		err := handler.ValidateToolCall("map_terms_batch", params)
		assert.Error(t, err)

		toolErr, ok := err.(*ToolError)
		assert.True(t, ok)
		assert.True(t, len(toolErr.ValidationErrors) > 0)
	})

	t.Run("Unknown tool", func(t *testing.T) {
		params := map[string]interface{}{
			"param1": "value1",
		}

		err := handler.ValidateToolCall("unknown_tool", params)
		assert.Error(t, err)

		toolErr, ok := err.(*ToolError)
		assert.True(t, ok)
		assert.Equal(t, ErrorToolNotFound, toolErr.Code)
	})

	t.Run("Nil parameter value does not panic", func(t *testing.T) {
		params := map[string]interface{}{
			"text":      "fever",
			"threshold": nil,
		}

		assert.NotPanics(t, func() {
			handler.ValidateToolCall("map_term", params)
		})
	})
}

func TestGracefulDegradationManager_ServiceFailure(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	cbManager := NewCircuitBreakerManager(CircuitBreakerConfig{})
	manager := NewGracefulDegradationManager(logger, cbManager)

	t.Run("Handle vocabulary lookup failure with fallback", func(t *testing.T) {
		originalError := fmt.Errorf("vocabulary store unavailable")

		result, err := manager.HandleServiceFailure(context.Background(), "vocabulary_lookup", originalError)

		assert.NoError(t, err)
		assert.NotNil(t, result)
		assert.True(t, result.Success)
		assert.NotEmpty(t, result.Source)
		assert.NotEmpty(t, result.Quality)
		assert.True(t, result.ExecutionTime > 0)
	})

	t.Run("Handle rules engine failure with fallback", func(t *testing.T) {
		originalError := fmt.Errorf("rules store unavailable")

		result, err := manager.HandleServiceFailure(context.Background(), "rules_engine", originalError)

		assert.NoError(t, err)
		assert.NotNil(t, result)
		assert.True(t, result.Success)
	})

	t.Run("Service status tracking", func(t *testing.T) {
		status := manager.GetServiceStatus()

		assert.NotNil(t, status)

		vocabStatus, exists := status["vocabulary_lookup"]
		assert.True(t, exists)

		vocabStatusMap, ok := vocabStatus.(map[string]interface{})
		assert.True(t, ok)
		assert.Equal(t, 1, vocabStatusMap["priority"])
		assert.Equal(t, true, vocabStatusMap["fallback_enabled"])

		rulesStatus, exists := status["rules_engine"]
		assert.True(t, exists)
		rulesStatusMap, ok := rulesStatus.(map[string]interface{})
		assert.True(t, ok)
		assert.Equal(t, 2, rulesStatusMap["priority"])
	})

	t.Run("Unknown service failure", func(t *testing.T) {
		originalError := fmt.Errorf("service error")

		result, err := manager.HandleServiceFailure(context.Background(), "unknown_service", originalError)

		assert.Error(t, err)
		assert.Nil(t, result)
	})
}

func TestRecoveryGuidanceManager_RecoveryPlan(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	manager := NewRecoveryGuidanceManager(logger)

	t.Run("Generate recovery plan for a vocabulary store timeout", func(t *testing.T) {
		errorCtx := &ErrorContext{
			Error: &MCPError{
				Code:    ErrorServiceUnavailable,
				Message: "Vocabulary Store connection timeout",
			},
			ServiceName:   "vocabulary_lookup",
			OperationName: "map_term",
			RequestID:     "req_123",
			Timestamp:     time.Now(),
		}

		plan, err := manager.GenerateRecoveryPlan(context.Background(), errorCtx)

		assert.NoError(t, err)
		assert.NotNil(t, plan)
		assert.Equal(t, errorCtx, plan.ErrorContext)
		assert.True(t, len(plan.RecommendedActions) > 0)
		assert.True(t, plan.EstimatedTime > 0)
		assert.True(t, plan.SuccessRate > 0)

		hasRetryAction := false
		for _, action := range plan.RecommendedActions {
			if action.Action.Type == "retry" {
				hasRetryAction = true
				break
			}
		}
		assert.True(t, hasRetryAction)
	})

	t.Run("Generate recovery plan for a rule validation error", func(t *testing.T) {
		errorCtx := &ErrorContext{
			Error: &MCPError{
				Code:    ErrorInvalidParams,
				Message: "Invalid rule parameters provided",
			},
			ServiceName:   "rules_engine",
			OperationName: "add_rule",
			RequestID:     "req_456",
			Timestamp:     time.Now(),
		}

		plan, err := manager.GenerateRecoveryPlan(context.Background(), errorCtx)

		assert.NoError(t, err)
		assert.NotNil(t, plan)
		assert.True(t, len(plan.RecommendedActions) > 0)

		hasManualAction := false
		for _, action := range plan.RecommendedActions {
			if action.Action.Type == "manual" {
				hasManualAction = true
				break
			}
		}
		assert.True(t, hasManualAction)
	})
}

func TestErrorAuditTrail_Logging(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := AuditConfig{
		RetentionPeriod:    time.Hour,
		MaxEntriesPerChain: 10,
		CleanupInterval:    time.Minute,
	}

	audit := NewErrorAuditTrail(logger, config)
	defer audit.Stop()

	t.Run("Log error to audit trail", func(t *testing.T) {
		correlationID := "test_correlation_123"
		testError := fmt.Errorf("test audit error")

		errorCtx := ErrorEventContext{
			RequestParams: map[string]interface{}{
				"request_id": "req_789",
			},
			Environment: EnvironmentInfo{
				ServiceVersion: "mapper_mcp_v1",
				Environment:    "test",
			},
			Timing: TimingInfo{
				RequestStartTime: time.Now(),
				ErrorTime:        time.Now(),
			},
		}

		entry, err := audit.LogError(context.Background(), correlationID, testError, errorCtx)

		assert.NoError(t, err)
		assert.NotNil(t, entry)
		assert.Equal(t, correlationID, entry.CorrelationID)
		assert.Equal(t, "test audit error", entry.ErrorMessage)
		assert.Equal(t, ErrorInternalError, entry.ErrorCode)
		assert.NotEmpty(t, entry.ID)
	})

	t.Run("Get correlation chain", func(t *testing.T) {
		correlationID := "test_correlation_456"
		testError := fmt.Errorf("chain test error")

		errorCtx := ErrorEventContext{
			RequestParams: map[string]interface{}{
				"request_id": "req_chain_test",
			},
			Environment: EnvironmentInfo{
				ServiceVersion: "mapper_mcp_v1",
			},
		}

		for i := 0; i < 3; i++ {
			_, err := audit.LogError(context.Background(), correlationID, testError, errorCtx)
			assert.NoError(t, err)
		}

		chain, err := audit.GetCorrelationChain(correlationID)
		assert.NoError(t, err)
		assert.NotNil(t, chain)
		assert.Equal(t, correlationID, chain.ID)
		assert.Equal(t, 3, len(chain.Entries))
		assert.Equal(t, "active", chain.Status)
	})

	t.Run("Search audit entries", func(t *testing.T) {
		correlationID := "search_test_correlation"
		serviceName := "vocabulary_lookup"

		errorCtx := ErrorEventContext{
			RequestParams: map[string]interface{}{
				"request_id": "search_req_123",
			},
			Environment: EnvironmentInfo{
				ServiceVersion: serviceName,
			},
		}

		_, err := audit.LogError(context.Background(), correlationID, fmt.Errorf("search test error"), errorCtx)
		assert.NoError(t, err)

		criteria := SearchCriteria{
			ServiceName: serviceName,
			Limit:       10,
		}

		entries, err := audit.SearchAuditEntries(context.Background(), criteria)
		assert.NoError(t, err)
		assert.True(t, len(entries) > 0)

		found := false
		for _, entry := range entries {
			if entry.CorrelationID == correlationID {
				found = true
				break
			}
		}
		assert.True(t, found)
	})

	t.Run("Mark error as resolved", func(t *testing.T) {
		correlationID := "resolve_test_correlation"
		testError := fmt.Errorf("resolve test error")

		errorCtx := ErrorEventContext{
			RequestParams: map[string]interface{}{
				"request_id": "resolve_req_123",
			},
			Environment: EnvironmentInfo{
				ServiceVersion: "rules_engine",
			},
		}

		entry, err := audit.LogError(context.Background(), correlationID, testError, errorCtx)
		assert.NoError(t, err)

		err = audit.MarkResolved(entry.ID, "retry", "auto", "Issue resolved automatically")
		assert.NoError(t, err)

		criteria := SearchCriteria{
			CorrelationID: correlationID,
		}

		entries, err := audit.SearchAuditEntries(context.Background(), criteria)
		assert.NoError(t, err)
		assert.True(t, len(entries) > 0)
		assert.NotNil(t, entries[0].Resolution)
		assert.True(t, entries[0].Resolution.Success)
		assert.Equal(t, "auto", entries[0].Resolution.ResolvedBy)
	})

	t.Run("Get audit statistics", func(t *testing.T) {
		stats := audit.GetAuditStats()

		assert.NotNil(t, stats)
		assert.Contains(t, stats, "total_entries")
		assert.Contains(t, stats, "total_correlations")
		assert.Contains(t, stats, "by_severity")
		assert.Contains(t, stats, "by_category")
		assert.Contains(t, stats, "resolution_rate")

		totalEntries, ok := stats["total_entries"].(int)
		assert.True(t, ok)
		assert.True(t, totalEntries > 0)
	})
}

func TestIntegrationErrorHandling(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := ErrorManagerConfig{
		CorrelationTTL:       time.Hour,
		MaxCorrelations:      1000,
		AuditRetention:       24 * time.Hour,
		EnableRecovery:       true,
		EnableDegradation:    true,
		EnableCircuitBreaker: true,
	}

	manager := NewErrorManager(logger, config)

	t.Run("End-to-end error handling flow for a rules store outage", func(t *testing.T) {
		originalError := &MCPError{
			Code:    ErrorServiceUnavailable,
			Message: "Rules store connection timeout",
			Data: map[string]interface{}{
				"database": "rules_db",
				"host":     "localhost:5432",
			},
		}

		ctxData := map[string]interface{}{
			"service":    "rules_engine",
			"operation":  "add_rule",
			"request_id": "integration_test_123",
			"user_id":    "user_789",
		}

		result := manager.HandleError(context.Background(), originalError, ctxData)

		assert.NotNil(t, result)
		assert.Equal(t, ErrorServiceUnavailable, result.Code)
		assert.NotEmpty(t, result.CorrelationID)
		assert.NotEmpty(t, result.Suggestions)
		assert.True(t, result.Recoverable)

		correlations := manager.GetActiveCorrelations()
		assert.True(t, len(correlations) > 0)

		foundCorrelation := false
		for _, corr := range correlations {
			if corr.ID == result.CorrelationID {
				foundCorrelation = true
				assert.Equal(t, "rules_engine", corr.ServiceName)
				assert.Equal(t, "integration_test_123", corr.RequestID)
				break
			}
		}
		assert.True(t, foundCorrelation)

		if manager.recoveryManager != nil {
			errorCtx := &ErrorContext{
				Error:         result,
				ServiceName:   ctxData["service"].(string),
				OperationName: ctxData["operation"].(string),
				RequestID:     ctxData["request_id"].(string),
				UserID:        ctxData["user_id"].(string),
				Timestamp:     time.Now(),
			}

			plan, err := manager.recoveryManager.GenerateRecoveryPlan(context.Background(), errorCtx)
			assert.NoError(t, err)
			assert.NotNil(t, plan)
			assert.True(t, len(plan.RecommendedActions) > 0)
		}
	})

	t.Run("AttemptDegradation serves a fallback for a tripped vocabulary lookup", func(t *testing.T) {
		fb, ok := manager.AttemptDegradation(context.Background(), "vocabulary_lookup", fmt.Errorf("breaker open"))
		assert.True(t, ok)
		assert.NotNil(t, fb)
		assert.True(t, fb.Success)
	})

	t.Run("AttemptDegradation reports failure for an unregistered service", func(t *testing.T) {
		fb, ok := manager.AttemptDegradation(context.Background(), "not_a_service", fmt.Errorf("boom"))
		assert.False(t, ok)
		assert.Nil(t, fb)
	})

	t.Run("ValidateToolCall rejects a map_term call missing text", func(t *testing.T) {
		err := manager.ValidateToolCall("map_term", map[string]interface{}{"threshold": 0.5})
		assert.Error(t, err)
	})

	t.Run("ValidateToolCall accepts a well-formed map_term call", func(t *testing.T) {
		err := manager.ValidateToolCall("map_term", map[string]interface{}{"text": "fever"})
		assert.NoError(t, err)
	})
}

// Benchmarks for performance testing

func BenchmarkErrorManager_HandleError(b *testing.B) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := ErrorManagerConfig{
		CorrelationTTL:  time.Hour,
		MaxCorrelations: 10000,
	}

	manager := NewErrorManager(logger, config)
	testError := fmt.Errorf("benchmark test error")
	ctxData := map[string]interface{}{
		"service":    "vocabulary_lookup",
		"request_id": "bench_123",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		manager.HandleError(context.Background(), testError, ctxData)
	}
}

func BenchmarkCircuitBreaker_Call(b *testing.B) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	config := CircuitBreakerConfig{
		DefaultThreshold: 5,
		DefaultTimeout:   time.Second,
	}

	manager := NewCircuitBreakerManager(config)
	breaker := manager.GetOrCreateCircuitBreaker("map_term")

	operation := func(ctx context.Context) error {
		return nil
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		breaker.Call(context.Background(), operation)
	}
}

func BenchmarkToolErrorHandler_ValidateToolCall(b *testing.B) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	handler := NewToolErrorHandler(logger)
	params := map[string]interface{}{
		"text":      "acute myocardial infarction",
		"threshold": 0.7,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		handler.ValidateToolCall("map_term", params)
	}
}
