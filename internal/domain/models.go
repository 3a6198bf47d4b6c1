package domain

import "time"

// Vocabulary Models

// Concept is the identity of a coded entry in a vocabulary. Immutable after
// index build; rebuilt offline from vocabulary source files (spec §3).
type Concept struct {
	Code            string            `json:"code"`
	System          System            `json:"system"`
	Display         string            `json:"display"`
	NormalizedForms []string          `json:"normalized_forms"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// VocabularyTerm is one entry of a system's in-memory fuzzy index: a
// (code, normalized_text, display) triple loaded at initialization (spec
// §4.2).
type VocabularyTerm struct {
	Code       string `json:"code"`
	Normalized string `json:"normalized_text"`
	Display    string `json:"display"`
}

// Request/Response Models

// NormalizedTerm is the Normalizer's output: one canonical form plus an
// ordered list of generated variants (spec §4.1).
type NormalizedTerm struct {
	Original  string   `json:"original"`
	Canonical string   `json:"canonical"`
	Variants  []string `json:"variants"`
}

// Span locates a target term within surrounding text, in character offsets.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Within reports whether s lies entirely inside scope, the containment
// test a modifier's scope span must pass for the modifier to affect a
// candidate term (spec §4.4).
func (s Span) Within(scope Span) bool {
	return s.Start >= scope.Start && s.End <= scope.End
}

// ContextInput is the caller-supplied clinical context around a term (spec
// §3).
type ContextInput struct {
	SurroundingText string            `json:"surrounding_text,omitempty"`
	DomainHint      Domain            `json:"domain_hint,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// TermRequest is a single mapping request (spec §3).
type TermRequest struct {
	Text                string           `json:"text"`
	Systems             []System         `json:"systems,omitempty"`
	Threshold           float64          `json:"threshold"`
	Algorithms          []FuzzyAlgorithm `json:"algorithms,omitempty"`
	MaxResultsPerSystem int              `json:"max_results_per_system"`
	Context             *ContextInput    `json:"context,omitempty"`
}

// Modifier is one clinical-context cue affecting a target term span (spec
// §3).
type Modifier struct {
	Type       ModifierType `json:"type"`
	Text       string       `json:"text"`
	Span       Span         `json:"span"`
	Confidence float64      `json:"confidence"`
	ScopeSpan  Span         `json:"scope_span"`
}

// ContextOut is the Context Analyzer's output (spec §3).
type ContextOut struct {
	DetectedDomain    Domain     `json:"detected_domain"`
	Modifiers         []Modifier `json:"modifiers"`
	IsNegated         bool       `json:"is_negated"`
	NegationConfidence float64   `json:"negation_confidence"`
	NegationCue       string     `json:"negation_cue,omitempty"`
}

// Fingerprint reduces a ContextOut to the hashable form used by the cache
// key: detected domain plus sorted modifier types (spec §4.6). Raw
// surrounding text is never part of the fingerprint.
func (c *ContextOut) Fingerprint() string {
	if c == nil {
		return "none"
	}
	seen := map[ModifierType]bool{}
	types := make([]string, 0, len(c.Modifiers))
	for _, m := range c.Modifiers {
		if seen[m.Type] {
			continue
		}
		seen[m.Type] = true
		types = append(types, string(m.Type))
	}
	return string(c.DetectedDomain) + "|" + joinSorted(types)
}

// MappingCandidate is one scored, coded hypothesis for a surface term (spec
// §3).
type MappingCandidate struct {
	Code        string    `json:"code"`
	System      System    `json:"system"`
	Display     string    `json:"display"`
	Confidence  float64   `json:"confidence"`
	MatchType   MatchType `json:"match_type"`
	Source      Source    `json:"source"`
	Explanation string    `json:"explanation,omitempty"`
	IsNegated   bool      `json:"is_negated,omitempty"`
	RuleID      string    `json:"rule_id,omitempty"`
}

// RuleApplication records one custom rule that contributed to a result
// (spec §3).
type RuleApplication struct {
	RuleID     string    `json:"rule_id"`
	RuleType   RuleType  `json:"rule_type"`
	Priority   Priority  `json:"priority"`
	System     System    `json:"system"`
	MatchScore float64   `json:"match_score"`
	Overrode   bool      `json:"overrode"`
}

// ProcessingMetadata reports timings, cache status, and degradation
// information for one mapping result (spec §4.9, §7).
type ProcessingMetadata struct {
	CacheStatus          string   `json:"cache"`
	TimedOut             bool     `json:"timed_out"`
	DegradedSystems      []System `json:"degraded_systems,omitempty"`
	RulesAppliedCount    int      `json:"rules_applied_count"`
	BaseCandidateCount   int      `json:"base_candidate_count"`
	FinalCandidateCount  int      `json:"final_candidate_count"`
}

// MappingResult is the outcome of mapping one term (spec §3).
type MappingResult struct {
	Term              string                         `json:"term"`
	PerSystem         map[System][]MappingCandidate  `json:"per_system"`
	TotalMatches      int                            `json:"total_matches"`
	ProcessingTimeMS  int64                          `json:"processing_time_ms"`
	Context           *ContextOut                    `json:"context,omitempty"`
	AppliedRules      []RuleApplication               `json:"applied_rules"`
	ProcessingMetadata ProcessingMetadata             `json:"processing_metadata"`
}

// ExecutorResult pairs one batch slot's original index with its outcome, so
// the Parallel Executor can write results back in input order even when a
// slot fails or is cancelled (spec §4.8).
type ExecutorResult struct {
	Index     int            `json:"index"`
	Result    *MappingResult `json:"result,omitempty"`
	Err       error          `json:"-"`
	ErrKind   ErrorKind      `json:"error_kind,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
}

// BatchResult aggregates a batch mapping call's per-slot outcomes and
// summary statistics (spec §4.9).
type BatchResult struct {
	Results        []ExecutorResult `json:"results"`
	SuccessCount   int              `json:"success_count"`
	FailureCount   int              `json:"failure_count"`
	TotalTimeMS    int64            `json:"total_time_ms"`
}

// Custom Rule Models

// RuleTarget is the coded concept a custom rule points to (spec §3).
type RuleTarget struct {
	Code    string `json:"code"`
	System  System `json:"system"`
	Display string `json:"display"`
}

// CustomRule is a persisted, versioned rule evaluated by the Rules Engine
// (spec §3).
type CustomRule struct {
	RuleID     string            `json:"rule_id"`
	RuleType   RuleType          `json:"rule_type"`
	Priority   Priority          `json:"priority"`
	SourceTerm string            `json:"source_term"`
	Target     RuleTarget        `json:"target"`
	Conditions map[string]any    `json:"conditions,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	CreatedBy  string            `json:"created_by,omitempty"`
	IsActive   bool              `json:"is_active"`
}

// Validate checks the write-time constraints of spec §4.5: non-empty
// identity fields, valid enum values, and the presence of the condition key
// each rule type needs (pattern for PATTERN_MATCH, required_context for
// CONTEXT_DEPENDENT, domain for DOMAIN_SPECIFIC). It does not compile the
// pattern; the rules engine's Add does that.
func (r *CustomRule) Validate() error {
	if r.RuleID == "" {
		return NewValidationError("rule_id", "rule_id is required", r.RuleID)
	}
	if r.SourceTerm == "" {
		return NewValidationError("source_term", "source_term is required", r.SourceTerm)
	}
	if r.Target.Code == "" {
		return NewValidationError("target.code", "target.code is required", r.Target.Code)
	}
	if !r.Target.System.IsValid() {
		return NewValidationError("target.system", "target.system is invalid", r.Target.System)
	}
	if !r.RuleType.IsValid() {
		return NewValidationError("rule_type", "rule_type is invalid", r.RuleType)
	}
	if !r.Priority.IsValid() {
		return NewValidationError("priority", "priority is invalid", r.Priority)
	}
	switch r.RuleType {
	case RulePatternMatch:
		if _, ok := r.Conditions["pattern"]; !ok {
			return NewValidationError("conditions.pattern", "pattern is required for PATTERN_MATCH rules", nil)
		}
	case RuleContextDependent:
		if _, ok := r.Conditions["required_context"]; !ok {
			return NewValidationError("conditions.required_context", "required_context is required for CONTEXT_DEPENDENT rules", nil)
		}
	case RuleDomainSpecific:
		if _, ok := r.Conditions["domain"]; !ok {
			return NewValidationError("conditions.domain", "domain is required for DOMAIN_SPECIFIC rules", nil)
		}
	}
	return nil
}

// RuleMatch is one rule found applicable to a (term, context) pair, before
// the apply-policy merge (spec §4.5).
type RuleMatch struct {
	Rule       *CustomRule `json:"rule"`
	MatchScore float64     `json:"match_score"`
}

// RuleExport is the JSON schema of a rules export/import round trip (spec
// §6).
type RuleExport struct {
	Rules []CustomRule `json:"rules"`
}

// SystemInfo describes one configured vocabulary system (spec §6).
type SystemInfo struct {
	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	ConceptCount int    `json:"concept_count"`
	Supported    bool   `json:"supported"`
}

// Cache Models

// CacheKey is the pure-function cache key of spec §4.6/§3 invariant 5:
// normalized term, sorted systems, threshold, sorted algorithms, context
// fingerprint, and rules version.
type CacheKey struct {
	NormalizedTerm     string
	Systems            []System
	Threshold          float64
	Algorithms         []FuzzyAlgorithm
	ContextFingerprint string
	RulesVersion       uint64
}

// CacheStats reports hot/warm tier hit/miss counters for observability.
type CacheStats struct {
	HotHits    int64 `json:"hot_hits"`
	WarmHits   int64 `json:"warm_hits"`
	Misses     int64 `json:"misses"`
	HotEntries int   `json:"hot_entries"`
}

// Configuration Models

// Config is the engine's single configuration object (spec §6).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Fuzzy    FuzzyConfig    `mapstructure:"fuzzy"`
	Context  ContextConfig  `mapstructure:"context"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	MCP      MCPConfig      `mapstructure:"mcp"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	DataDir  string         `mapstructure:"data_dir"`
	RulesDB  string         `mapstructure:"rules_db"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TLSEnabled   bool          `mapstructure:"tls_enabled"`
	CertFile     string        `mapstructure:"cert_file"`
	KeyFile      string        `mapstructure:"key_file"`
}

// DatabaseConfig represents the Rules Engine's Postgres connection
// configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CacheConfig represents the two-tier cache configuration (spec §6).
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	HotCapacity int           `mapstructure:"hot_capacity"`
	TTLHot      time.Duration `mapstructure:"ttl_hot_s"`
	TTLWarm     time.Duration `mapstructure:"ttl_warm_s"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// FuzzyConfig represents the Fuzzy Matcher's default configuration (spec
// §6).
type FuzzyConfig struct {
	EnabledAlgorithms []FuzzyAlgorithm `mapstructure:"enabled_algorithms"`
	DefaultThreshold  float64          `mapstructure:"default_threshold"`
	BatchThreshold    int              `mapstructure:"batch_threshold"`
}

// ContextConfig toggles the Context Analyzer (spec §6).
type ContextConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WorkersConfig bounds the Parallel Executor's pool (spec §6).
type WorkersConfig struct {
	Max            int           `mapstructure:"max"`
	QueueCapacity  int           `mapstructure:"queue_capacity"`
	TermDeadline   time.Duration `mapstructure:"term_deadline"`
	BatchDeadline  time.Duration `mapstructure:"batch_deadline"`
}

// MCPConfig selects the MCP server's transport (spec §6).
type MCPConfig struct {
	TransportType string `mapstructure:"transport_type"`
	HTTPHost      string `mapstructure:"http_host"`
	HTTPPort      int    `mapstructure:"http_port"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

func joinSorted(items []string) string {
	if len(items) == 0 {
		return ""
	}
	out := make([]string, len(items))
	copy(out, items)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	result := out[0]
	for _, s := range out[1:] {
		result += "," + s
	}
	return result
}
