package tools

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// stubCoordinator implements domain.MappingCoordinator for tool-layer tests,
// recording its last call's arguments and returning canned results.
type stubCoordinator struct {
	mapTermResult   *domain.MappingResult
	mapTermErr      error
	lastTermReq     domain.TermRequest
	batchResult     *domain.BatchResult
	batchErr        error
	lastBatchReqs   []domain.TermRequest
	addRuleErr      error
	lastAddedRule   *domain.CustomRule
	updateRuleErr   error
	lastUpdatedRule *domain.CustomRule
	deleteRuleErr   error
	lastDeletedID   string
	exportResult    *domain.RuleExport
	exportErr       error
	importCount     int
	importErr       error
	lastImport      *domain.RuleExport
	systemsInfo     []domain.SystemInfo
	systemsErr      error
}

func (s *stubCoordinator) MapTerm(_ context.Context, req domain.TermRequest) (*domain.MappingResult, error) {
	s.lastTermReq = req
	if s.mapTermErr != nil {
		return nil, s.mapTermErr
	}
	return s.mapTermResult, nil
}

func (s *stubCoordinator) MapTermsBatch(_ context.Context, reqs []domain.TermRequest) (*domain.BatchResult, error) {
	s.lastBatchReqs = reqs
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
	s.lastUpdatedRule = rule
	return s.updateRuleErr
}

func (s *stubCoordinator) DeleteRule(_ context.Context, ruleID string) error {
	s.lastDeletedID = ruleID
	return s.deleteRuleErr
}

func (s *stubCoordinator) ExportRules(context.Context) (*domain.RuleExport, error) {
	if s.exportErr != nil {
		return nil, s.exportErr
	}
	return s.exportResult, nil
}

func (s *stubCoordinator) ImportRules(_ context.Context, export *domain.RuleExport) (int, error) {
	s.lastImport = export
	if s.importErr != nil {
		return 0, s.importErr
	}
	return s.importCount, nil
}

func (s *stubCoordinator) GetSystemsInfo(context.Context) ([]domain.SystemInfo, error) {
	if s.systemsErr != nil {
		return nil, s.systemsErr
	}
	return s.systemsInfo, nil
}

var errStub = errors.New("stub failure")

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	return logger
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
