package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"equipment-custody-backend/internal/lifecycle"
)

func boolQuery(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}

func listOptions(c *gin.Context) lifecycle.ListOptions {
	return lifecycle.ListOptions{
		IncludeDeleted: boolQuery(c, "includeDeleted"),
		Filter:         lifecycle.Filter(c.Query("filter")),
		SortByDays:     c.Query("sort") == "days",
	}
}

// ListEquipment handles GET /api/equipment.
func (h *Handler) ListEquipment(c *gin.Context) {
	records, err := h.svc.List(c.Request.Context(), listOptions(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, records)
}

// GetEquipment handles GET /api/equipment/:id.
func (h *Handler) GetEquipment(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"), boolQuery(c, "includeDeleted"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, rec)
}

// RegisterEquipment handles POST /api/equipment.
func (h *Handler) RegisterEquipment(c *gin.Context) {
	var req lifecycle.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	res, err := h.svc.Register(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// UpdateEquipment handles PUT /api/equipment/:id. The body replaces every
// editable field.
func (h *Handler) UpdateEquipment(c *gin.Context) {
	var req lifecycle.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	rec, err := h.svc.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, rec)
}

// PatchEquipment handles PATCH /api/equipment/:id.
func (h *Handler) PatchEquipment(c *gin.Context) {
	var req lifecycle.PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	rec, err := h.svc.Patch(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, rec)
}

// MarkIntake handles POST /api/equipment/:id/intake.
func (h *Handler) MarkIntake(c *gin.Context) {
	rec, err := h.svc.MarkIntake(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, rec)
}

// MarkExit handles POST /api/equipment/:id/exit. The body is optional.
func (h *Handler) MarkExit(c *gin.Context) {
	var req lifecycle.MarkExitRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return
		}
	}

	rec, err := h.svc.MarkExit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, rec)
}

// BatchExit handles PUT /api/equipment/batch-exit.
func (h *Handler) BatchExit(c *gin.Context) {
	var req lifecycle.BatchExitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	res, err := h.svc.BatchExit(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteEquipment handles DELETE /api/equipment/:id (soft delete).
func (h *Handler) DeleteEquipment(c *gin.Context) {
	if err := h.svc.SoftDelete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PurgeEquipment handles DELETE /api/equipment/:id/purge.
func (h *Handler) PurgeEquipment(c *gin.Context) {
	if err := h.svc.Purge(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
