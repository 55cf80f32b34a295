package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// @Summary      Start the channel scheduler
// @Tags         scheduler
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/scheduler/start [post]
// @Security     BearerAuth
func (h *Handler) startScheduler(c *gin.Context) {
	h.services.StartScheduler()
	c.JSON(http.StatusOK, gin.H{"running": true})
}

// @Summary      Stop the channel scheduler
// @Tags         scheduler
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/scheduler/stop [post]
// @Security     BearerAuth
func (h *Handler) stopScheduler(c *gin.Context) {
	h.services.StopScheduler()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

// @Summary      Scheduler status
// @Tags         scheduler
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/scheduler/status [get]
// @Security     BearerAuth
func (h *Handler) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": h.services.SchedulerRunning()})
}
