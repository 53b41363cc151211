package routes

import (
	"net/http"
	"time"

	"minidrive/config"
	"minidrive/controllers"
	"minidrive/middleware"
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServiceContainer holds the services the HTTP layer dispatches to.
type ServiceContainer struct {
	NodeService      *services.NodeService
	ShareService     *services.ShareService
	TrashService     *services.TrashService
	ArchiveService   *services.ArchiveService
	AnalyticsService *services.AnalyticsService
}

// NewRouter builds the gin engine with every API route registered.
func NewRouter(container *ServiceContainer, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), utils.RequestLogger())
	router.Use(corsMiddleware(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.JWTSecret, cfg.JWTIssuer))
	SetupRoutesWithContainer(api, container, cfg.MaxFileSize)

	return router
}

// SetupRoutesWithContainer registers all route groups on an authenticated group.
func SetupRoutesWithContainer(api *gin.RouterGroup, container *ServiceContainer, maxFileSize int64) {
	RegisterFileRoutes(api, controllers.NewFileController(container.NodeService, maxFileSize))
	RegisterFolderRoutes(api,
		controllers.NewFolderController(container.NodeService),
		controllers.NewArchiveController(container.ArchiveService))
	RegisterSearchRoutes(api, controllers.NewSearchController(container.NodeService, container.AnalyticsService))
	RegisterShareRoutes(api, controllers.NewShareController(container.ShareService))
	RegisterTrashRoutes(api, controllers.NewTrashController(container.TrashService))
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Content-Length", "Accept", "Authorization", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Disposition", "Location", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}
	if len(allowedOrigins) == 0 || contains(allowedOrigins, "*") {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
