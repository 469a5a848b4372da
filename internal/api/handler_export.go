package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"equipment-custody-backend/internal/report"
)

// ExportEquipment handles GET /api/equipment/export. It accepts the same
// query parameters as the listing.
func (h *Handler) ExportEquipment(c *gin.Context) {
	records, err := h.svc.List(c.Request.Context(), listOptions(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Type", report.ContentType)
	c.Header("Content-Disposition", "attachment; filename="+report.FileName(time.Now().UTC()))
	c.Status(http.StatusOK)
	if err := report.WriteXLSX(c.Writer, records); err != nil {
		h.log.Error("failed to write export", zap.Error(err))
		_ = c.Error(err)
	}
}
