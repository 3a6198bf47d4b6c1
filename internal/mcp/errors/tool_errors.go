package errors

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ToolErrorHandler handles tool-specific errors with detailed validation
type ToolErrorHandler struct {
	logger        *logrus.Logger
	validators    map[string]ToolValidator
	errorPatterns map[string]ErrorPattern
}

// ToolValidator defines validation rules for MCP tools
type ToolValidator struct {
	Name            string                         `json:"name"`
	RequiredParams  []string                       `json:"required_params"`
	ParamTypes      map[string]string              `json:"param_types"`
	ParamValidators map[string]ValidationRule      `json:"param_validators"`
	CustomValidator func(params map[string]interface{}) error
}

// ValidationRule defines parameter validation constraints
type ValidationRule struct {
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	MinLength   *int        `json:"min_length,omitempty"`
	MaxLength   *int        `json:"max_length,omitempty"`
	MinValue    *float64    `json:"min_value,omitempty"`
	MaxValue    *float64    `json:"max_value,omitempty"`
	Pattern     string      `json:"pattern,omitempty"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// ErrorPattern defines patterns for common tool errors
type ErrorPattern struct {
	Code        int      `json:"code"`
	Message     string   `json:"message"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Recoverable bool     `json:"recoverable"`
	Suggestions []string `json:"suggestions"`
}

// ToolError represents a tool-specific error with validation details
type ToolError struct {
	*MCPError
	ToolName       string                 `json:"tool_name"`
	ValidationErrors []ValidationError    `json:"validation_errors,omitempty"`
	Context        map[string]interface{} `json:"context,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// ValidationError represents a specific parameter validation failure
type ValidationError struct {
	Parameter   string      `json:"parameter"`
	Value       interface{} `json:"value"`
	Expected    string      `json:"expected"`
	Actual      string      `json:"actual"`
	Rule        string      `json:"rule"`
	Message     string      `json:"message"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	return ve.Message
}

// NewToolErrorHandler creates a new tool error handler
func NewToolErrorHandler(logger *logrus.Logger) *ToolErrorHandler {
	handler := &ToolErrorHandler{
		logger:        logger,
		validators:    make(map[string]ToolValidator),
		errorPatterns: make(map[string]ErrorPattern),
	}
	
	handler.initializeDefaultValidators()
	handler.initializeErrorPatterns()
	
	return handler
}

// RegisterToolValidator registers a validator for a specific tool
func (teh *ToolErrorHandler) RegisterToolValidator(validator ToolValidator) {
	teh.validators[validator.Name] = validator
	teh.logger.WithField("tool", validator.Name).Info("Registered tool validator")
}

// ValidateToolCall validates parameters for a tool call
func (teh *ToolErrorHandler) ValidateToolCall(toolName string, params map[string]interface{}) error {
	validator, exists := teh.validators[toolName]
	if !exists {
		return teh.createToolError(toolName, ErrorToolNotFound, "Tool validator not found", nil, nil)
	}

	var validationErrors []ValidationError

	// Check required parameters
	for _, required := range validator.RequiredParams {
		if _, exists := params[required]; !exists {
			validationErrors = append(validationErrors, ValidationError{
				Parameter: required,
				Expected:  "present",
				Actual:    "missing",
				Rule:      "required",
				Message:   fmt.Sprintf("Required parameter '%s' is missing", required),
				Suggestions: []string{
					fmt.Sprintf("Add parameter '%s' to your request", required),
					"Check the tool documentation for required parameters",
				},
			})
		}
	}

	// Validate parameter types and constraints
	for param, value := range params {
		if rule, exists := validator.ParamValidators[param]; exists {
			if valErr := teh.validateParameter(param, value, rule); valErr != nil {
				validationErrors = append(validationErrors, *valErr)
			}
		}
	}

	// Run custom validation if available
	if validator.CustomValidator != nil {
		if err := validator.CustomValidator(params); err != nil {
			validationErrors = append(validationErrors, ValidationError{
				Parameter: "custom",
				Message:   err.Error(),
				Rule:      "custom_validation",
				Suggestions: []string{
					"Review the tool-specific requirements",
					"Check parameter combinations and dependencies",
				},
			})
		}
	}

	if len(validationErrors) > 0 {
		return teh.createToolError(toolName, ErrorInvalidParams, "Parameter validation failed", validationErrors, params)
	}

	return nil
}

// validateParameter validates a single parameter against its rule
func (teh *ToolErrorHandler) validateParameter(param string, value interface{}, rule ValidationRule) *ValidationError {
	if value == nil {
		return nil
	}

	// Type validation
	actualType := reflect.TypeOf(value).String()
	if rule.Type != "" && !teh.isCompatibleType(actualType, rule.Type) {
		return &ValidationError{
			Parameter: param,
			Value:     value,
			Expected:  rule.Type,
			Actual:    actualType,
			Rule:      "type",
			Message:   fmt.Sprintf("Parameter '%s' has incorrect type. Expected %s, got %s", param, rule.Type, actualType),
			Suggestions: []string{
				fmt.Sprintf("Convert '%s' to type %s", param, rule.Type),
				"Check the parameter documentation for expected types",
			},
		}
	}

	// String validations
	if str, ok := value.(string); ok {
		if rule.MinLength != nil && len(str) < *rule.MinLength {
			return &ValidationError{
				Parameter: param,
				Value:     value,
				Expected:  fmt.Sprintf("minimum length %d", *rule.MinLength),
				Actual:    fmt.Sprintf("length %d", len(str)),
				Rule:      "min_length",
				Message:   fmt.Sprintf("Parameter '%s' is too short", param),
				Suggestions: []string{
					fmt.Sprintf("Ensure '%s' has at least %d characters", param, *rule.MinLength),
				},
			}
		}

		if rule.MaxLength != nil && len(str) > *rule.MaxLength {
			return &ValidationError{
				Parameter: param,
				Value:     value,
				Expected:  fmt.Sprintf("maximum length %d", *rule.MaxLength),
				Actual:    fmt.Sprintf("length %d", len(str)),
				Rule:      "max_length",
				Message:   fmt.Sprintf("Parameter '%s' is too long", param),
				Suggestions: []string{
					fmt.Sprintf("Ensure '%s' has at most %d characters", param, *rule.MaxLength),
				},
			}
		}

		if len(rule.Enum) > 0 && !teh.contains(rule.Enum, str) {
			return &ValidationError{
				Parameter: param,
				Value:     value,
				Expected:  fmt.Sprintf("one of: %s", strings.Join(rule.Enum, ", ")),
				Actual:    str,
				Rule:      "enum",
				Message:   fmt.Sprintf("Parameter '%s' has invalid value", param),
				Suggestions: []string{
					fmt.Sprintf("Use one of the allowed values: %s", strings.Join(rule.Enum, ", ")),
				},
			}
		}
	}

	// Numeric validations
	if num, ok := teh.toFloat64(value); ok {
		if rule.MinValue != nil && num < *rule.MinValue {
			return &ValidationError{
				Parameter: param,
				Value:     value,
				Expected:  fmt.Sprintf("minimum value %f", *rule.MinValue),
				Actual:    fmt.Sprintf("value %f", num),
				Rule:      "min_value",
				Message:   fmt.Sprintf("Parameter '%s' is too small", param),
				Suggestions: []string{
					fmt.Sprintf("Use a value >= %f for '%s'", *rule.MinValue, param),
				},
			}
		}

		if rule.MaxValue != nil && num > *rule.MaxValue {
			return &ValidationError{
				Parameter: param,
				Value:     value,
				Expected:  fmt.Sprintf("maximum value %f", *rule.MaxValue),
				Actual:    fmt.Sprintf("value %f", num),
				Rule:      "max_value",
				Message:   fmt.Sprintf("Parameter '%s' is too large", param),
				Suggestions: []string{
					fmt.Sprintf("Use a value <= %f for '%s'", *rule.MaxValue, param),
				},
			}
		}
	}

	return nil
}

// createToolError creates a detailed tool error
func (teh *ToolErrorHandler) createToolError(toolName string, code int, message string, validationErrors []ValidationError, context map[string]interface{}) *ToolError {
	mcpError := &MCPError{
		Code:          code,
		Message:       message,
		Data:          make(map[string]interface{}),
		CorrelationID: generateCorrelationID(),
		Severity:      SeverityMedium,
		Category:      CategoryValidation,
		Recoverable:   true,
		Suggestions: []string{
			"Check parameter names and types",
			"Refer to tool documentation",
			"Validate input data before calling tools",
		},
	}

	if context != nil {
		mcpError.Data["context"] = context
	}

	toolError := &ToolError{
		MCPError:         mcpError,
		ToolName:         toolName,
		ValidationErrors: validationErrors,
		Context:          context,
		Timestamp:        time.Now(),
	}

	// Add detailed suggestions based on validation errors
	if len(validationErrors) > 0 {
		suggestions := make([]string, 0)
		for _, valErr := range validationErrors {
			suggestions = append(suggestions, valErr.Suggestions...)
		}
		mcpError.Suggestions = append(mcpError.Suggestions, suggestions...)
	}

	return toolError
}

// initializeDefaultValidators sets up validators for this server's actual
// MCP tools (spec §6), registered under internal/mcp/tools/registry.go.
func (teh *ToolErrorHandler) initializeDefaultValidators() {
	// map_term: single-term mapping
	teh.RegisterToolValidator(ToolValidator{
		Name:           "map_term",
		RequiredParams: []string{"text"},
		ParamTypes: map[string]string{
			"text":                   "string",
			"systems":                "array",
			"threshold":              "number",
			"algorithms":             "array",
			"max_results_per_system": "number",
			"context":                "object",
		},
		ParamValidators: map[string]ValidationRule{
			"text": {
				Type:        "string",
				Required:    true,
				MinLength:   &[]int{1}[0],
				MaxLength:   &[]int{500}[0],
				Description: "Clinical term to map",
			},
			"threshold": {
				Type:        "number",
				MinValue:    &[]float64{0}[0],
				MaxValue:    &[]float64{1}[0],
				Description: "Minimum match confidence, 0.0-1.0",
			},
		},
	})

	// map_terms_batch: parallel mapping of multiple terms
	teh.RegisterToolValidator(ToolValidator{
		Name:           "map_terms_batch",
		RequiredParams: []string{"terms"},
		ParamTypes:     map[string]string{"terms": "array"},
		CustomValidator: func(params map[string]interface{}) error {
			terms, ok := params["terms"].([]interface{})
			if !ok || len(terms) == 0 {
				return fmt.Errorf("terms must be a non-empty array")
			}
			return nil
		},
	})

	// get_systems_info: no parameters
	teh.RegisterToolValidator(ToolValidator{
		Name: "get_systems_info",
	})

	// add_rule / update_rule: a custom rule body
	ruleParamValidators := map[string]ValidationRule{
		"source_term": {
			Type:        "string",
			Required:    true,
			MinLength:   &[]int{1}[0],
			Description: "Term the rule matches against",
		},
		"rule_type": {
			Type:        "string",
			Required:    true,
			Enum:        []string{"EXACT_MATCH", "PATTERN_MATCH", "CONTEXT_DEPENDENT", "DOMAIN_SPECIFIC", "MANUAL_OVERRIDE"},
			Description: "How the rule is matched against a term",
		},
		"priority": {
			Type:        "string",
			Required:    true,
			Enum:        []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"},
			Description: "Rule priority relative to other applicable rules",
		},
	}
	teh.RegisterToolValidator(ToolValidator{
		Name:            "add_rule",
		RequiredParams:  []string{"source_term", "rule_type", "priority", "target"},
		ParamValidators: ruleParamValidators,
	})
	teh.RegisterToolValidator(ToolValidator{
		Name:            "update_rule",
		RequiredParams:  []string{"rule_id", "source_term", "rule_type", "priority", "target"},
		ParamValidators: ruleParamValidators,
	})

	// delete_rule
	teh.RegisterToolValidator(ToolValidator{
		Name:           "delete_rule",
		RequiredParams: []string{"rule_id"},
		ParamValidators: map[string]ValidationRule{
			"rule_id": {Type: "string", Required: true, MinLength: &[]int{1}[0], Description: "Rule identifier to deactivate"},
		},
	})

	// export_rules: no parameters
	teh.RegisterToolValidator(ToolValidator{
		Name: "export_rules",
	})

	// import_rules: a rules array
	teh.RegisterToolValidator(ToolValidator{
		Name:           "import_rules",
		RequiredParams: []string{"rules"},
		ParamTypes:     map[string]string{"rules": "array"},
	})
}

// initializeErrorPatterns sets up common error patterns for mapping
// operations.
func (teh *ToolErrorHandler) initializeErrorPatterns() {
	teh.errorPatterns["term_too_short"] = ErrorPattern{
		Code:        ErrorInvalidParams,
		Message:     "Term is empty or too short to map",
		Category:    CategoryValidation,
		Severity:    SeverityMedium,
		Recoverable: true,
		Suggestions: []string{
			"Provide the full clinical term text",
			"Check for accidental truncation before calling the tool",
		},
	}

	teh.errorPatterns["unknown_system"] = ErrorPattern{
		Code:        ErrorInvalidParams,
		Message:     "Requested vocabulary system is not supported",
		Category:    CategoryValidation,
		Severity:    SeverityMedium,
		Recoverable: true,
		Suggestions: []string{
			"Use one of SNOMED, LOINC, or RxNorm",
			"Call get_systems_info to list supported systems",
		},
	}

	teh.errorPatterns["vocabulary_unavailable"] = ErrorPattern{
		Code:        ErrorServiceUnavailable,
		Message:     "Vocabulary Store lookup timed out or is unavailable",
		Category:    CategoryExternal,
		Severity:    SeverityHigh,
		Recoverable: true,
		Suggestions: []string{
			"Retry the request after a brief delay",
			"Expect the affected system to appear in degraded_systems",
		},
	}

	teh.errorPatterns["rules_store_error"] = ErrorPattern{
		Code:        ErrorServiceUnavailable,
		Message:     "Custom Rules Engine store is unavailable",
		Category:    CategoryExternal,
		Severity:    SeverityHigh,
		Recoverable: true,
		Suggestions: []string{
			"Retry the rule mutation after a brief delay",
			"Check rules store connectivity and circuit breaker state",
		},
	}
}

// Helper methods

func (teh *ToolErrorHandler) isCompatibleType(actual, expected string) bool {
	typeMap := map[string][]string{
		"string":  {"string"},
		"number":  {"int", "int64", "float64", "float32"},
		"boolean": {"bool"},
		"array":   {"[]interface{}", "[]string", "[]int", "[]float64"},
		"object":  {"map[string]interface{}", "struct"},
	}

	if compatibles, exists := typeMap[expected]; exists {
		for _, compatible := range compatibles {
			if strings.Contains(actual, compatible) {
				return true
			}
		}
	}

	return actual == expected
}

func (teh *ToolErrorHandler) toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func (teh *ToolErrorHandler) contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// GetValidatorInfo returns information about registered validators
func (teh *ToolErrorHandler) GetValidatorInfo() map[string]ToolValidator {
	result := make(map[string]ToolValidator)
	for name, validator := range teh.validators {
		result[name] = validator
	}
	return result
}

// GetErrorPatterns returns available error patterns
func (teh *ToolErrorHandler) GetErrorPatterns() map[string]ErrorPattern {
	result := make(map[string]ErrorPattern)
	for name, pattern := range teh.errorPatterns {
		result[name] = pattern
	}
	return result
}