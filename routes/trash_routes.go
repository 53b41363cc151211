package routes

import (
	"minidrive/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterTrashRoutes(rg *gin.RouterGroup, trashController *controllers.TrashController) {
	trash := rg.Group("/trash")
	{
		trash.GET("", trashController.GetTrashItems)            // GET /trash
		trash.POST("/:id/restore", trashController.RestoreItem) // POST /trash/:id/restore
	}
}
