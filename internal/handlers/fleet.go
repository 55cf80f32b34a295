package handlers

import (
	"net/http"
	"strconv"

	"specac_control/internal/models"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK      = "ok"
	statusQueued  = "queued"
	statusUpdated = "updated"

	errScanFleet       = "failed to scan fleet"
	errInvalidDeviceID = "invalid device id"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// deviceIdx parses the :id path parameter. Writes a 400 and returns false
// when the parameter is not a number.
func (h *Handler) deviceIdx(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("id"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidDeviceID})
		return 0, false
	}
	return idx, true
}

// Request DTOs.

type fanRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
	Speed   int   `json:"speed"`
}

type intensityRequest struct {
	Percent *int `json:"percent" binding:"required"`
}

type scheduleRequest struct {
	OnTime  string `json:"on_time" binding:"required"`
	OffTime string `json:"off_time" binding:"required"`
	Enabled bool   `json:"enabled"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Rescan serial ports for chamber boards
// @Tags         fleet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/fleet/scan [post]
// @Security     BearerAuth
func (h *Handler) scanFleet(c *gin.Context) {
	devices, err := h.services.Scan(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errScanFleet, "fleet_scan_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// @Summary      List devices with connection and fan state
// @Tags         fleet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/fleet/devices [get]
// @Security     BearerAuth
func (h *Handler) listDevices(c *gin.Context) {
	devices := h.services.Devices()
	c.JSON(http.StatusOK, gin.H{"devices": devices, "count": len(devices)})
}

// @Summary      Queue a settings apply for every device
// @Tags         fleet
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/fleet/apply [post]
// @Security     BearerAuth
func (h *Handler) applyAll(c *gin.Context) {
	queued := h.services.ApplyAll()
	c.JSON(http.StatusOK, gin.H{"status": statusQueued, "devices": queued})
}

// @Summary      Get one device's settings
// @Tags         fleet
// @Produce      json
// @Success      200  {object}  models.ChamberSettings
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/fleet/devices/{id}/settings [get]
// @Security     BearerAuth
func (h *Handler) getDeviceSettings(c *gin.Context) {
	idx, ok := h.deviceIdx(c)
	if !ok {
		return
	}
	settings, err := h.services.GetSettings(idx)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// @Summary      Queue a settings apply for one device
// @Tags         fleet
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/fleet/devices/{id}/apply [post]
// @Security     BearerAuth
func (h *Handler) applyDevice(c *gin.Context) {
	idx, ok := h.deviceIdx(c)
	if !ok {
		return
	}
	if err := h.services.ApplyDevice(idx); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusQueued})
}

// @Summary      Queue a connectivity probe for one device
// @Tags         fleet
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/fleet/devices/{id}/ping [post]
// @Security     BearerAuth
func (h *Handler) pingDevice(c *gin.Context) {
	idx, ok := h.deviceIdx(c)
	if !ok {
		return
	}
	if err := h.services.Ping(idx); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusQueued})
}

// @Summary      Set the fan for one device
// @Tags         fleet
// @Accept       json
// @Produce      json
// @Param        body  body  fanRequest  true  "Fan payload"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/fleet/devices/{id}/fan [put]
// @Security     BearerAuth
func (h *Handler) setFan(c *gin.Context) {
	idx, ok := h.deviceIdx(c)
	if !ok {
		return
	}
	var req fanRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	if err := h.services.SetFan(idx, *req.Enabled, req.Speed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusQueued})
}

// @Summary      Set one channel's brightness percent
// @Tags         fleet
// @Accept       json
// @Produce      json
// @Param        body  body  intensityRequest  true  "Intensity payload"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/fleet/devices/{id}/intensity/{channel} [put]
// @Security     BearerAuth
func (h *Handler) setIntensity(c *gin.Context) {
	idx, ok := h.deviceIdx(c)
	if !ok {
		return
	}
	var req intensityRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	channel := c.Param("channel")
	if err := h.services.SetIntensity(c.Request.Context(), idx, channel, *req.Percent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusUpdated, "channel": channel})
}

// @Summary      Set one channel's on/off schedule
// @Tags         fleet
// @Accept       json
// @Produce      json
// @Param        body  body  scheduleRequest  true  "Schedule payload"
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/fleet/devices/{id}/schedule/{channel} [put]
// @Security     BearerAuth
func (h *Handler) setSchedule(c *gin.Context) {
	idx, ok := h.deviceIdx(c)
	if !ok {
		return
	}
	var req scheduleRequest
	if ok := h.bindJSONOrBadRequest(c, &req); !ok {
		return
	}
	channel := c.Param("channel")
	sched := models.ChannelSchedule{OnTime: req.OnTime, OffTime: req.OffTime, Enabled: req.Enabled}
	if err := h.services.SetSchedule(c.Request.Context(), idx, channel, sched); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusUpdated, "channel": channel})
}
