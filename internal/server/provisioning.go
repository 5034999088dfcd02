package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/provisioning/internal/provisioning/ingest"
)

func (s *Server) IngestPurchase(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, ErrUnreadableBody)
		return
	}

	resp := s.gateway.Ingest(c.Request.Context(), body)
	if accepted, ok := resp.Body.(ingest.AcceptedResponse); ok {
		c.Set("provisioning_id", accepted.ProvisioningID)
	}
	c.JSON(resp.Status, resp.Body)
}
