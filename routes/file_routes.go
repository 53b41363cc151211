package routes

import (
	"minidrive/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterFileRoutes(rg *gin.RouterGroup, fileController *controllers.FileController) {
	files := rg.Group("/files")
	{
		files.POST("", fileController.UploadFile)              // POST /files (multipart)
		files.GET("/:id", fileController.GetNode)              // GET /files/:id
		files.GET("/:id/content", fileController.DownloadFile) // GET /files/:id/content
		files.PATCH("/:id", fileController.UpdateNode)         // PATCH /files/:id (rename/move)
		files.DELETE("/:id", fileController.DeleteNode)        // DELETE /files/:id (move to trash)
	}
}
