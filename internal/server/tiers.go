package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	plantierdomain "github.com/smallbiznis/meterline/internal/plantier/domain"
)

func (s *Server) ListTiers(c *gin.Context) {
	tiers, err := s.tierSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": tiers})
}

func (s *Server) CreateTier(c *gin.Context) {
	var req plantierdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tier, err := s.tierSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tier)
}

func (s *Server) GetTierByID(c *gin.Context) {
	tier, err := s.tierSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tier)
}

func (s *Server) UpdateTier(c *gin.Context) {
	var req plantierdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.ID = strings.TrimSpace(c.Param("id"))

	tier, err := s.tierSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tier)
}

func (s *Server) DeleteTier(c *gin.Context) {
	if err := s.tierSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ApplyTier pushes the tier's current allowances onto every open usage
// period referencing it, without resetting counters.
func (s *Server) ApplyTier(c *gin.Context) {
	updated, err := s.usageSvc.ApplyTierToActiveUsers(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}
