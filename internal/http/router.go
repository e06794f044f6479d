package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the API routes.
func NewRouter(imports *ImportController, health *HealthController) *gin.Engine {
	router := gin.Default()

	router.GET("/health", health.Status)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.POST("/import", imports.Import)
		api.POST("/import/analyze", imports.Analyze)
		api.POST("/import/detect", imports.Detect)
		api.POST("/patients/:id/visits/:visitId/import", imports.ImportForTarget)
		api.GET("/imports", imports.ListSessions)
		api.GET("/imports/:id", imports.GetSession)
	}

	return router
}
