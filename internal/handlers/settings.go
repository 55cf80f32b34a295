package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	errExportSettings = "failed to export settings"
	errImportSettings = "failed to import settings"

	maxImportSize = 1 << 20 // 1 MB
)

// @Summary      Export all chamber settings as one JSON document
// @Tags         settings
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/settings/export [get]
// @Security     BearerAuth
func (h *Handler) exportSettings(c *gin.Context) {
	data, err := h.services.Export(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errExportSettings, "settings_export_failed", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="chamber_settings.json"`)
	c.Data(http.StatusOK, "application/json", data)
}

// @Summary      Import a chamber settings document
// @Tags         settings
// @Accept       json
// @Produce      json
// @Success      200  {object}  service.ImportReport
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/settings/import [post]
// @Security     BearerAuth
func (h *Handler) importSettings(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxImportSize))
	if err != nil {
		h.logAndJSONError(c, http.StatusBadRequest, errImportSettings, "settings_import_read_failed", err)
		return
	}
	report, err := h.services.Import(c.Request.Context(), data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}
