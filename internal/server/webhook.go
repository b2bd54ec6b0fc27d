package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleBillingWebhook verifies, decodes and applies one provider event.
// Any non-2xx response makes the provider redeliver, so only errors that
// a retry can fix are allowed to surface.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.decoder.Verify(payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := s.decoder.Parse(payload)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.reconcilerSvc.Handle(c.Request.Context(), *event); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
