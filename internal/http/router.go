package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/germainsafari/image-editor-backend/internal/http/handlers"
	httpMW "github.com/germainsafari/image-editor-backend/internal/http/middleware"
)

type RouterConfig struct {
	VersionHandler *httpH.VersionHandler
	ImageHandler   *httpH.ImageHandler
	HealthHandler  *httpH.HealthHandler

	HydrationGate httpMW.HydrationGate
	CORSOrigins   []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.HydrationGate != nil {
			api.Use(httpMW.RequireHydrated(cfg.HydrationGate))
		}

		// Editor state flags
		if cfg.VersionHandler != nil {
			api.GET("/state", cfg.VersionHandler.GetState)

			// Versions
			api.POST("/images", cfg.VersionHandler.UploadImage)
			api.POST("/versions", cfg.VersionHandler.DeriveVersion)
			api.GET("/versions", cfg.VersionHandler.ListVersions)
			api.GET("/versions/current", cfg.VersionHandler.GetCurrent)
			api.GET("/versions/history", cfg.VersionHandler.GetHistory)
			api.GET("/versions/root", cfg.VersionHandler.GetRoot)
			api.PUT("/versions/current/:id", cfg.VersionHandler.SetCurrent)
			api.PUT("/versions/branch-root/:id", cfg.VersionHandler.SetBranchRoot)
			api.DELETE("/versions/branch-root", cfg.VersionHandler.ClearBranchRoot)
			api.DELETE("/versions/:id", cfg.VersionHandler.DeleteVersion)
			api.POST("/versions/clear", cfg.VersionHandler.ClearAll)
		}

		// Image bytes
		if cfg.ImageHandler != nil {
			api.GET("/images/:id", cfg.ImageHandler.GetImage)
		}
	}

	return r
}
