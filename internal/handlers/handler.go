package handlers

import (
	"specac_control/internal/logger"
	"specac_control/internal/service"

	"github.com/gin-gonic/gin"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services *service.Service
	log      *logger.Logger
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{services: services, log: log}
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health endpoint
	router.GET("/health", h.health)

	// Auth endpoints
	h.registerAuthRoutes(router)

	// Versioned API endpoints (protected)
	h.registerAPIRoutes(router)

	// WebSocket result stream, same port as the REST API.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAuthRoutes(r *gin.Engine) {
	auth := r.Group("/auth")
	{
		auth.POST("/sign-up", h.signUp)
		auth.POST("/sign-in", h.signIn)
	}
}

func (h *Handler) registerAPIRoutes(r *gin.Engine) {
	api := r.Group("/api/v1", h.userIdMiddleware)
	{
		h.registerFleetRoutes(api)
		h.registerSchedulerRoutes(api)
		h.registerSettingsRoutes(api)
		h.registerAuditRoutes(api)
	}
}

func (h *Handler) registerFleetRoutes(api *gin.RouterGroup) {
	fleet := api.Group("/fleet")
	{
		fleet.POST("/scan", h.scanFleet)
		fleet.GET("/devices", h.listDevices)
		fleet.POST("/apply", h.applyAll)

		device := fleet.Group("/devices/:id")
		{
			device.GET("/settings", h.getDeviceSettings)
			device.POST("/apply", h.applyDevice)
			device.POST("/ping", h.pingDevice)
			device.PUT("/fan", h.setFan)
			// Body example: {"percent":80}
			device.PUT("/intensity/:channel", h.setIntensity)
			// Body example: {"on_time":"08:00","off_time":"23:30","enabled":true}
			device.PUT("/schedule/:channel", h.setSchedule)
		}
	}
}

func (h *Handler) registerSchedulerRoutes(api *gin.RouterGroup) {
	sched := api.Group("/scheduler")
	{
		sched.POST("/start", h.startScheduler)
		sched.POST("/stop", h.stopScheduler)
		sched.GET("/status", h.schedulerStatus)
	}
}

func (h *Handler) registerSettingsRoutes(api *gin.RouterGroup) {
	settings := api.Group("/settings")
	{
		settings.GET("/export", h.exportSettings)
		settings.POST("/import", h.importSettings)
	}
}

func (h *Handler) registerAuditRoutes(api *gin.RouterGroup) {
	// Registered directly so /api/v1/audit answers without gin's
	// trailing-slash redirect.
	api.GET("/audit", h.getAudit)
}
