package handlers

import (
	"net/http"
	"strconv"
	"time"

	"specac_control/internal/service"

	"github.com/gin-gonic/gin"
)

const errListAudit = "failed to load audit log"

// @Summary      List executed commands
// @Description  Filters: from/to (RFC3339), chamber, limit
// @Tags         audit
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/audit [get]
// @Security     BearerAuth
func (h *Handler) getAudit(c *gin.Context) {
	f := service.NewAuditFilter()

	if s := c.Query("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from': " + err.Error()})
			return
		}
		f.From = t
	}
	if s := c.Query("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to': " + err.Error()})
			return
		}
		f.To = t
	}
	if s := c.Query("chamber"); s != "" {
		chamber, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'chamber': " + err.Error()})
			return
		}
		f.Chamber = chamber
	}
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'limit': " + err.Error()})
			return
		}
		f.Limit = limit
	}

	entries, err := h.services.Audit.List(c.Request.Context(), f)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errListAudit, "audit_list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
