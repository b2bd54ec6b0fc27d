package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/smallbiznis/meterline/internal/subscription/domain"
)

func (s *Server) GetSubscription(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entity_id"))
	if entityID == "" {
		AbortWithError(c, subscriptiondomain.ErrInvalidEntityID)
		return
	}

	record, err := s.subscriptionSvc.GetByEntityID(c.Request.Context(), entityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	pageSize := int32(0)
	if raw := strings.TrimSpace(c.Query("page_size")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || parsed < 0 {
			AbortWithError(c, invalidRequestError())
			return
		}
		pageSize = int32(parsed)
	}

	resp, err := s.subscriptionSvc.List(c.Request.Context(), subscriptiondomain.ListRequest{
		Status:    c.Query("status"),
		PageToken: c.Query("page_token"),
		PageSize:  pageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type setAddonQuantityBody struct {
	Quantity *int64 `json:"quantity"`
}

func (s *Server) SetAddonQuantity(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entity_id"))
	if entityID == "" {
		AbortWithError(c, subscriptiondomain.ErrInvalidEntityID)
		return
	}

	var body setAddonQuantityBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Quantity == nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.subscriptionSvc.SetAddonQuantity(c.Request.Context(), subscriptiondomain.SetAddonQuantityRequest{
		EntityID: entityID,
		Quantity: *body.Quantity,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}
