package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	trialdomain "github.com/smallbiznis/meterline/internal/trial/domain"
)

type grantTrialBody struct {
	DurationDays int    `json:"duration_days"`
	GrantedBy    string `json:"granted_by"`
}

func (s *Server) GrantTrial(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entity_id"))

	var body grantTrialBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	grant, err := s.trialSvc.Grant(c.Request.Context(), trialdomain.GrantRequest{
		EntityID:     entityID,
		DurationDays: body.DurationDays,
		GrantedBy:    body.GrantedBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, grant)
}

func (s *Server) RevokeTrial(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entity_id"))

	record, err := s.trialSvc.Revoke(c.Request.Context(), trialdomain.RevokeRequest{
		EntityID:  entityID,
		RevokedBy: strings.TrimSpace(c.Query("revoked_by")),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
