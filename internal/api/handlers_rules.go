package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// ruleBody is the JSON shape of a custom rule accepted by the rules CRUD
// endpoints, mirroring the MCP tool layer's wire shape (spec §4.5).
type ruleBody struct {
	RuleID     string            `json:"rule_id,omitempty"`
	RuleType   string            `json:"rule_type" binding:"required"`
	Priority   string            `json:"priority" binding:"required"`
	SourceTerm string            `json:"source_term" binding:"required"`
	Target     ruleTargetBody    `json:"target" binding:"required"`
	Conditions map[string]any    `json:"conditions,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	IsActive   bool              `json:"is_active"`
}

type ruleTargetBody struct {
	Code    string `json:"code" binding:"required"`
	System  string `json:"system" binding:"required"`
	Display string `json:"display" binding:"required"`
}

func (b ruleBody) toCustomRule() *domain.CustomRule {
	return &domain.CustomRule{
		RuleID:     b.RuleID,
		RuleType:   domain.RuleType(b.RuleType),
		Priority:   domain.Priority(b.Priority),
		SourceTerm: b.SourceTerm,
		Target: domain.RuleTarget{
			Code:    b.Target.Code,
			System:  domain.System(b.Target.System),
			Display: b.Target.Display,
		},
		Conditions: b.Conditions,
		Metadata:   b.Metadata,
		IsActive:   b.IsActive,
	}
}

// handleAddRule handles POST /v1/rules.
func (s *Server) handleAddRule(c *gin.Context) {
	var body ruleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := body.toCustomRule()
	if rule.RuleID == "" {
		rule.RuleID = uuid.NewString()
	}
	rule.CreatedAt = time.Now().UTC()
	rule.UpdatedAt = rule.CreatedAt
	rule.IsActive = true

	if err := s.coordinator.AddRule(c.Request.Context(), rule); err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"rule": rule})
}

// handleUpdateRule handles PUT /v1/rules/:rule_id.
func (s *Server) handleUpdateRule(c *gin.Context) {
	var body ruleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body.RuleID = c.Param("rule_id")
	rule := body.toCustomRule()
	rule.UpdatedAt = time.Now().UTC()

	if err := s.coordinator.UpdateRule(c.Request.Context(), rule); err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"rule": rule})
}

// handleDeleteRule handles DELETE /v1/rules/:rule_id.
func (s *Server) handleDeleteRule(c *gin.Context) {
	ruleID := c.Param("rule_id")
	if err := s.coordinator.DeleteRule(c.Request.Context(), ruleID); err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule_id": ruleID, "deactivated": true})
}

// handleExportRules handles GET /v1/rules/export.
func (s *Server) handleExportRules(c *gin.Context) {
	export, err := s.coordinator.ExportRules(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

// handleImportRules handles POST /v1/rules/import.
func (s *Server) handleImportRules(c *gin.Context) {
	var body struct {
		Rules []ruleBody `json:"rules" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rules := make([]domain.CustomRule, len(body.Rules))
	for i, b := range body.Rules {
		rules[i] = *b.toCustomRule()
	}

	count, err := s.coordinator.ImportRules(c.Request.Context(), &domain.RuleExport{Rules: rules})
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"imported_count": count})
}
