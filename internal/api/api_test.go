package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
	"github.com/clinterm/mapper-mcp-server/internal/optimization"
)

// stubCoordinator implements domain.MappingCoordinator for gateway handler
// tests, mirroring the stub used by the MCP tool layer's own tests.
type stubCoordinator struct {
	mapTermResult *domain.MappingResult
	mapTermErr    error
	batchResult   *domain.BatchResult
	batchErr      error
	addRuleErr    error
	lastAddedRule *domain.CustomRule
	updateRuleErr error
	deleteRuleErr error
	lastDeletedID string
	exportResult  *domain.RuleExport
	importCount   int
	systemsInfo   []domain.SystemInfo
	systemsErr    error
}

func (s *stubCoordinator) MapTerm(context.Context, domain.TermRequest) (*domain.MappingResult, error) {
	if s.mapTermErr != nil {
		return nil, s.mapTermErr
	}
	return s.mapTermResult, nil
}

func (s *stubCoordinator) MapTermsBatch(context.Context, []domain.TermRequest) (*domain.BatchResult, error) {
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	return s.batchResult, nil
}

func (s *stubCoordinator) AddRule(_ context.Context, rule *domain.CustomRule) error {
	s.lastAddedRule = rule
	return s.addRuleErr
}

func (s *stubCoordinator) UpdateRule(_ context.Context, rule *domain.CustomRule) error {
	s.lastAddedRule = rule
	return s.updateRuleErr
}

func (s *stubCoordinator) DeleteRule(_ context.Context, ruleID string) error {
	s.lastDeletedID = ruleID
	return s.deleteRuleErr
}

func (s *stubCoordinator) ExportRules(context.Context) (*domain.RuleExport, error) {
	return s.exportResult, nil
}

func (s *stubCoordinator) ImportRules(context.Context, *domain.RuleExport) (int, error) {
	return s.importCount, nil
}

func (s *stubCoordinator) GetSystemsInfo(context.Context) ([]domain.SystemInfo, error) {
	if s.systemsErr != nil {
		return nil, s.systemsErr
	}
	return s.systemsInfo, nil
}

// newTestServer builds a Server with a stub coordinator and no optimizer,
// for the handlers that never touch s.optimizer.
func newTestServer(t *testing.T, coordinator domain.MappingCoordinator) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		router:      gin.New(),
		coordinator: coordinator,
	}
	s.setupRoutes()
	return s
}

// newTestServerWithOptimizer additionally wires a real in-memory SQLite
// backed Query Optimizer, for the concept lookup endpoints.
func newTestServerWithOptimizer(t *testing.T, system domain.System) (*Server, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE concepts (
			code TEXT PRIMARY KEY,
			display TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}'
		);
		CREATE TABLE normalized_terms (
			normalized_text TEXT NOT NULL,
			code TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO concepts (code, display, attributes) VALUES (?, ?, ?)`,
		"38341003", "Hypertensive disorder", "{}"); err != nil {
		t.Fatalf("failed to seed concepts: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO normalized_terms (normalized_text, code) VALUES (?, ?)`,
		"hypertension", "38341003"); err != nil {
		t.Fatalf("failed to seed normalized_terms: %v", err)
	}

	optimizer, err := optimization.New(optimization.QueryOptimizerConfig{
		DBs:                      map[domain.System]*sql.DB{system: db},
		EnableQueryCache:         true,
		EnablePreparedStatements: true,
		EnableQueryStats:         true,
	})
	if err != nil {
		t.Fatalf("failed to build query optimizer: %v", err)
	}

	s := &Server{
		router:    gin.New(),
		optimizer: optimizer,
	}
	s.setupRoutes()
	return s, db
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleMapTerm_Success(t *testing.T) {
	coordinator := &stubCoordinator{
		mapTermResult: &domain.MappingResult{Term: "aspirin", TotalMatches: 1},
	}
	s := newTestServer(t, coordinator)

	rec := doRequest(s, http.MethodPost, "/v1/map", map[string]interface{}{"text": "aspirin"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result domain.MappingResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result.TotalMatches != 1 {
		t.Fatalf("expected 1 total match, got %d", result.TotalMatches)
	}
}

func TestHandleMapTerm_MissingText(t *testing.T) {
	s := newTestServer(t, &stubCoordinator{})

	rec := doRequest(s, http.MethodPost, "/v1/map", map[string]interface{}{})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMapTerm_CoordinatorError(t *testing.T) {
	s := newTestServer(t, &stubCoordinator{mapTermErr: domain.NewInvalidInputError("text must not be empty")})

	rec := doRequest(s, http.MethodPost, "/v1/map", map[string]interface{}{"text": "x"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleMapTermsBatch_RejectsEmptyTerms(t *testing.T) {
	s := newTestServer(t, &stubCoordinator{})

	rec := doRequest(s, http.MethodPost, "/v1/map/batch", map[string]interface{}{"terms": []interface{}{}})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleMapTermsBatch_Success(t *testing.T) {
	coordinator := &stubCoordinator{batchResult: &domain.BatchResult{SuccessCount: 2}}
	s := newTestServer(t, coordinator)

	rec := doRequest(s, http.MethodPost, "/v1/map/batch", map[string]interface{}{
		"terms": []map[string]interface{}{{"text": "a"}, {"text": "b"}},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetSystemsInfo(t *testing.T) {
	coordinator := &stubCoordinator{systemsInfo: []domain.SystemInfo{{Name: "SNOMED", Supported: true}}}
	s := newTestServer(t, coordinator)

	rec := doRequest(s, http.MethodGet, "/v1/systems", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleAddRule_GeneratesRuleID(t *testing.T) {
	coordinator := &stubCoordinator{}
	s := newTestServer(t, coordinator)

	rec := doRequest(s, http.MethodPost, "/v1/rules", map[string]interface{}{
		"rule_type":   "EXACT_MATCH",
		"priority":    "HIGH",
		"source_term": "heart attack",
		"target": map[string]interface{}{
			"code": "22298006", "system": "SNOMED", "display": "Myocardial infarction",
		},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if coordinator.lastAddedRule == nil || coordinator.lastAddedRule.RuleID == "" {
		t.Fatalf("expected a generated rule id")
	}
}

func TestHandleAddRule_MissingRequiredField(t *testing.T) {
	s := newTestServer(t, &stubCoordinator{})

	rec := doRequest(s, http.MethodPost, "/v1/rules", map[string]interface{}{"rule_type": "EXACT_MATCH"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleDeleteRule(t *testing.T) {
	coordinator := &stubCoordinator{}
	s := newTestServer(t, coordinator)

	rec := doRequest(s, http.MethodDelete, "/v1/rules/rule-1", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if coordinator.lastDeletedID != "rule-1" {
		t.Fatalf("expected rule-1 to be deleted, got %q", coordinator.lastDeletedID)
	}
}

func TestHandleExportRules(t *testing.T) {
	coordinator := &stubCoordinator{exportResult: &domain.RuleExport{Rules: []domain.CustomRule{{RuleID: "r1"}}}}
	s := newTestServer(t, coordinator)

	rec := doRequest(s, http.MethodGet, "/v1/rules/export", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleLookupByCode_Found(t *testing.T) {
	s, _ := newTestServerWithOptimizer(t, domain.SystemSNOMED)

	rec := doRequest(s, http.MethodGet, "/v1/concepts/SNOMED/38341003", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleLookupByCode_NotFound(t *testing.T) {
	s, _ := newTestServerWithOptimizer(t, domain.SystemSNOMED)

	rec := doRequest(s, http.MethodGet, "/v1/concepts/SNOMED/99999999", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleLookupByCode_UnknownSystem(t *testing.T) {
	s, _ := newTestServerWithOptimizer(t, domain.SystemSNOMED)

	rec := doRequest(s, http.MethodGet, "/v1/concepts/BOGUS/38341003", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePrefixScan_RequiresPrefix(t *testing.T) {
	s, _ := newTestServerWithOptimizer(t, domain.SystemSNOMED)

	rec := doRequest(s, http.MethodGet, "/v1/concepts/SNOMED", nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePrefixScan_Success(t *testing.T) {
	s, _ := newTestServerWithOptimizer(t, domain.SystemSNOMED)

	rec := doRequest(s, http.MethodGet, "/v1/concepts/SNOMED?prefix=Hyper", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

