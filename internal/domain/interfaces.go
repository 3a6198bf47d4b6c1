package domain

import "context"

// Normalizer turns free text into a canonical form plus generated variants
// (spec §4.1). Implementations must be deterministic and pure.
type Normalizer interface {
	Normalize(text string) (*NormalizedTerm, error)
}

// VocabularyStore is the embedded, read-only index for one or more coding
// systems (spec §4.2).
type VocabularyStore interface {
	GetByCode(ctx context.Context, system System, code string) (*Concept, error)
	LookupNormalized(ctx context.Context, system System, normalized string) ([]*Concept, error)
	IterTerms(ctx context.Context, system System) ([]VocabularyTerm, error)
	SearchPrefix(ctx context.Context, system System, prefix string, limit int) ([]*Concept, error)
	ConceptCount(system System) int
	SupportedSystems() []System
}

// FuzzyMatcher generates scored candidates from approximate matching
// strategies (spec §4.3).
type FuzzyMatcher interface {
	Match(ctx context.Context, normalized *NormalizedTerm, system System, threshold float64, algorithms []FuzzyAlgorithm, maxResults int) ([]MappingCandidate, error)
}

// ContextAnalyzer derives domain and modifier information from surrounding
// text (spec §4.4).
type ContextAnalyzer interface {
	Analyze(ctx context.Context, input ContextInput, targetSpan Span) (*ContextOut, error)
}

// RulesEngine is the persistent custom-rule store and matcher (spec §4.5).
type RulesEngine interface {
	Add(ctx context.Context, rule *CustomRule) error
	Update(ctx context.Context, rule *CustomRule) error
	Deactivate(ctx context.Context, ruleID string) error
	Get(ctx context.Context, ruleID string) (*CustomRule, error)
	List(ctx context.Context, activeOnly bool) ([]*CustomRule, error)
	Export(ctx context.Context) (*RuleExport, error)
	Import(ctx context.Context, export *RuleExport) (int, error)
	FindMatches(ctx context.Context, normalized *NormalizedTerm, context *ContextOut) ([]RuleMatch, error)
	Apply(ctx context.Context, normalized *NormalizedTerm, base map[System][]MappingCandidate, context *ContextOut) (map[System][]MappingCandidate, []RuleApplication, error)
	Version() uint64
}

// CacheLayer is the two-tier hot/warm mapping-result cache (spec §4.6).
type CacheLayer interface {
	Get(ctx context.Context, key CacheKey) (*MappingResult, bool, error)
	Set(ctx context.Context, key CacheKey, result *MappingResult) error
	InvalidateAll(ctx context.Context) error
	Stats() CacheStats
}

// QueryOptimizer executes prepared, pooled, and batched vocabulary lookups
// (spec §4.7).
type QueryOptimizer interface {
	LookupByCode(ctx context.Context, system System, code string) (*Concept, error)
	LookupNormalized(ctx context.Context, system System, normalized string) ([]*Concept, error)
	BatchLookupNormalized(ctx context.Context, system System, normalized []string) (map[string][]*Concept, error)
	PrefixScan(ctx context.Context, system System, prefix string, limit int) ([]*Concept, error)
	IsHealthy() bool
}

// ParallelExecutor fans independent per-request work onto a bounded worker
// pool while preserving input order (spec §4.8).
type ParallelExecutor interface {
	Run(ctx context.Context, requests []TermRequest, fn func(context.Context, TermRequest) (*MappingResult, error)) []ExecutorResult
}

// MappingCoordinator is the top-level orchestration entry point (spec §4.9,
// §6's programmatic API).
type MappingCoordinator interface {
	MapTerm(ctx context.Context, req TermRequest) (*MappingResult, error)
	MapTermsBatch(ctx context.Context, reqs []TermRequest) (*BatchResult, error)
	AddRule(ctx context.Context, rule *CustomRule) error
	UpdateRule(ctx context.Context, rule *CustomRule) error
	DeleteRule(ctx context.Context, ruleID string) error
	ExportRules(ctx context.Context) (*RuleExport, error)
	ImportRules(ctx context.Context, export *RuleExport) (int, error)
	GetSystemsInfo(ctx context.Context) ([]SystemInfo, error)
}

// ConfigManager defines the interface for configuration management.
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetCacheConfig() *CacheConfig
	GetFuzzyConfig() *FuzzyConfig
	GetWorkersConfig() *WorkersConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
