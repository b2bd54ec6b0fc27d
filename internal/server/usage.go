package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/meterline/internal/observability/logger"
	usageperioddomain "github.com/smallbiznis/meterline/internal/usageperiod/domain"
	"go.uber.org/zap"
)

// ConsumeRateLimit absorbs request bursts per entity before they reach
// the database. Quota correctness does not depend on it.
func (s *Server) ConsumeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.consumeLimiter.Enabled() {
			c.Next()
			return
		}

		entityID := strings.TrimSpace(c.Param("entity_id"))
		allowed, err := s.consumeLimiter.Allow(c.Request.Context(), entityID)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("consume rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !allowed {
			c.Header("Retry-After", "1")
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *Server) Consume(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entity_id"))

	result, err := s.usageSvc.TryConsume(c.Request.Context(), entityID)
	if err != nil {
		if errors.Is(err, usageperioddomain.ErrNoEntitlement) {
			c.JSON(http.StatusPaymentRequired, gin.H{
				"allowed": false,
				"reason":  "no_entitlement",
			})
			return
		}
		AbortWithError(c, err)
		return
	}

	if !result.Allowed {
		c.JSON(http.StatusTooManyRequests, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetUsage(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entity_id"))

	usage, err := s.usageSvc.GetCurrentUsage(c.Request.Context(), entityID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}
