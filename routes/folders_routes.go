package routes

import (
	"minidrive/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterFolderRoutes(rg *gin.RouterGroup, folderController *controllers.FolderController, archiveController *controllers.ArchiveController) {
	folders := rg.Group("/folders")
	{
		folders.POST("", folderController.CreateFolder)                 // POST /folders
		folders.POST("/:id/archive", archiveController.InitiateArchive) // POST /folders/:id/archive
	}

	archives := rg.Group("/archives")
	{
		archives.GET("/:jobId", archiveController.GetStatus)            // GET /archives/:jobId
		archives.GET("/:jobId/file", archiveController.DownloadArchive) // GET /archives/:jobId/file
	}
}
