package routes

import (
	"minidrive/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterSearchRoutes(rg *gin.RouterGroup, searchController *controllers.SearchController) {
	rg.GET("/files", searchController.Search) // GET /files?q=term
	rg.GET("/stats", searchController.Stats)  // GET /stats
}
