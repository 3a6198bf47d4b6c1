package domain

import (
	"errors"
	"testing"
	"time"
)

func TestMappingError(t *testing.T) {
	tests := []struct {
		name    string
		kind    ErrorKind
		message string
		cause   error
	}{
		{
			name:    "invalid input without cause",
			kind:    ErrKindInvalidInput,
			message: "threshold out of range",
		},
		{
			name:    "rule store error with cause",
			kind:    ErrKindRuleStoreError,
			message: "rule store failure",
			cause:   errors.New("connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewMappingError(tt.kind, tt.message, tt.cause)

			if err.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, err.Kind)
			}
			if err.Message != tt.message {
				t.Errorf("expected message %s, got %s", tt.message, err.Message)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("timestamp should be recent, got %v", err.Timestamp)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("expected Unwrap to expose cause %v", tt.cause)
			}
		})
	}
}

func TestMappingErrorConstructors(t *testing.T) {
	if NewUnknownSystemError("ICD10").Kind != ErrKindUnknownSystem {
		t.Errorf("expected UnknownSystem kind")
	}
	if NewVocabularyUnavailableError(SystemSNOMED, nil).Kind != ErrKindVocabularyUnavailable {
		t.Errorf("expected VocabularyUnavailable kind")
	}
	if NewRuleValidationError("bad rule").Kind != ErrKindRuleValidationError {
		t.Errorf("expected RuleValidationError kind")
	}
	if NewCacheError(nil).Kind != ErrKindCacheError {
		t.Errorf("expected CacheError kind")
	}
	if NewTimeoutError("deadline exceeded").Kind != ErrKindTimeout {
		t.Errorf("expected Timeout kind")
	}
	if NewInternalError("boom", nil).Kind != ErrKindInternalError {
		t.Errorf("expected InternalError kind")
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{name: "string field", field: "source_term", message: "is required", value: ""},
		{name: "int field", field: "threshold", message: "must be in [0,1]", value: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, err.Field)
			}
			if err.Message != tt.message {
				t.Errorf("expected message %s, got %s", tt.message, err.Message)
			}
			if err.Value != tt.value {
				t.Errorf("expected value %v, got %v", tt.value, err.Value)
			}

			expected := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expected {
				t.Errorf("expected error string %s, got %s", expected, err.Error())
			}
		})
	}
}
