package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
)

// handlePercentile derives the displayed percentile rank of a score.
func (s *Server) handlePercentile(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}
	dataType := domain.DataType(req.DataType)
	if !dataType.IsScore() {
		respondError(c, domain.NewValidationError("dataType", "must be a normed score type", req.DataType))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"percentileRank": derivation.PercentileRank(domain.NumberValue(*req.Score), dataType),
	})
}

// handleDescriptor labels a score using a registered rating set or the
// default table.
func (s *Server) handleDescriptor(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindingError(err))
		return
	}

	state := s.store.State()
	rules := state.DefaultRules()
	if req.RatingSetID != "" {
		rs, ok := state.RatingSet(req.RatingSetID)
		if !ok {
			respondError(c, fmt.Errorf("rating set %s: %w", req.RatingSetID, domain.ErrNotFound))
			return
		}
		rules = rs.Rules
	}
	c.JSON(http.StatusOK, gin.H{
		"descriptor": derivation.GetDescriptor(domain.NumberValue(*req.Score), domain.DataType(req.DataType), rules),
	})
}
