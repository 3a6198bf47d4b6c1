package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// mapTermBody is the JSON body accepted by POST /v1/map.
type mapTermBody struct {
	Text                string          `json:"text" binding:"required"`
	Systems             []string        `json:"systems,omitempty"`
	Threshold           float64         `json:"threshold,omitempty"`
	Algorithms          []string        `json:"algorithms,omitempty"`
	MaxResultsPerSystem int             `json:"max_results_per_system,omitempty"`
	Context             *mapContextBody `json:"context,omitempty"`
}

type mapContextBody struct {
	SurroundingText string            `json:"surrounding_text,omitempty"`
	DomainHint      string            `json:"domain_hint,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

func (b mapTermBody) toTermRequest() domain.TermRequest {
	systems := make([]domain.System, 0, len(b.Systems))
	for _, s := range b.Systems {
		systems = append(systems, domain.System(s))
	}
	algorithms := make([]domain.FuzzyAlgorithm, 0, len(b.Algorithms))
	for _, a := range b.Algorithms {
		algorithms = append(algorithms, domain.FuzzyAlgorithm(a))
	}

	req := domain.TermRequest{
		Text:                b.Text,
		Systems:             systems,
		Threshold:           b.Threshold,
		Algorithms:          algorithms,
		MaxResultsPerSystem: b.MaxResultsPerSystem,
	}
	if b.Context != nil {
		req.Context = &domain.ContextInput{
			SurroundingText: b.Context.SurroundingText,
			DomainHint:      domain.Domain(b.Context.DomainHint),
			Metadata:        b.Context.Metadata,
		}
	}
	return req
}

// handleMapTerm handles POST /v1/map.
func (s *Server) handleMapTerm(c *gin.Context) {
	var body mapTermBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.coordinator.MapTerm(c.Request.Context(), body.toTermRequest())
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleMapTermsBatch handles POST /v1/map/batch.
func (s *Server) handleMapTermsBatch(c *gin.Context) {
	var body struct {
		Terms []mapTermBody `json:"terms" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(body.Terms) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "terms must be non-empty"})
		return
	}

	reqs := make([]domain.TermRequest, len(body.Terms))
	for i, t := range body.Terms {
		reqs[i] = t.toTermRequest()
	}

	batch, err := s.coordinator.MapTermsBatch(c.Request.Context(), reqs)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// handleGetSystemsInfo handles GET /v1/systems.
func (s *Server) handleGetSystemsInfo(c *gin.Context) {
	infos, err := s.coordinator.GetSystemsInfo(c.Request.Context())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"systems": infos})
}

// writeDomainError maps a domain-layer error to an HTTP status and JSON body.
func writeDomainError(c *gin.Context, err error) {
	if mappingErr, ok := err.(*domain.MappingError); ok {
		c.JSON(mappingErrorStatus(mappingErr.Kind), gin.H{
			"error":      mappingErr.Message,
			"kind":       mappingErr.Kind,
			"request_id": mappingErr.RequestID,
		})
		return
	}
	if validationErr, ok := err.(*domain.ValidationError); ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message, "field": validationErr.Field})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func mappingErrorStatus(kind domain.ErrorKind) int {
	switch kind {
	case domain.ErrKindInvalidInput, domain.ErrKindUnknownSystem, domain.ErrKindRuleValidationError:
		return http.StatusBadRequest
	case domain.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrKindVocabularyUnavailable, domain.ErrKindCacheError, domain.ErrKindRuleStoreError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
