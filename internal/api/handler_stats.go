package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStats handles GET /api/stats.
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, stats)
}

// GetCatalog handles GET /api/catalog.
func (h *Handler) GetCatalog(c *gin.Context) {
	respondData(c, http.StatusOK, h.svc.Catalog())
}

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
