package routes

import (
	"minidrive/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterShareRoutes registers all share-related endpoints
func RegisterShareRoutes(api *gin.RouterGroup, shareController *controllers.ShareController) {
	api.POST("/files/:id/share", shareController.ShareNode)
	api.GET("/files/:id/permissions", shareController.ListPermissions)
	api.DELETE("/files/:id/permissions/:userId", shareController.RevokePermission)
	api.GET("/shared", shareController.SharedWithMe)
}
