package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clinterm/mapper-mcp-server/internal/domain"
)

// handleLookupByCode handles GET /v1/concepts/:system/:code, a direct
// single-concept lookup served by the Query Optimizer rather than the
// in-memory fuzzy index.
func (s *Server) handleLookupByCode(c *gin.Context) {
	system := domain.System(c.Param("system"))
	if !system.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown system", "system": system})
		return
	}

	concept, err := s.optimizer.LookupByCode(c.Request.Context(), system, c.Param("code"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	if concept == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "concept not found"})
		return
	}

	c.JSON(http.StatusOK, concept)
}

// handlePrefixScan handles GET /v1/concepts/:system?prefix=...&limit=...
func (s *Server) handlePrefixScan(c *gin.Context) {
	system := domain.System(c.Param("system"))
	if !system.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown system", "system": system})
		return
	}

	prefix := c.Query("prefix")
	if prefix == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prefix query parameter is required"})
		return
	}

	limit := 20
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	concepts, err := s.optimizer.PrefixScan(c.Request.Context(), system, prefix, limit)
	if err != nil {
		writeDomainError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"concepts": concepts})
}
