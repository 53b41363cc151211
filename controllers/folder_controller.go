package controllers

import (
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
)

type FolderController struct {
	nodeService *services.NodeService
}

func NewFolderController(nodeService *services.NodeService) *FolderController {
	return &FolderController{nodeService: nodeService}
}

type CreateFolderRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	ParentID string `json:"parent_id"`
}

// CreateFolder handles POST /folders.
func (fc *FolderController) CreateFolder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req CreateFolderRequest
	if !bindJSON(c, &req) {
		return
	}

	folder, err := fc.nodeService.CreateFolder(c.Request.Context(), userID, req.Name, req.ParentID)
	if err != nil {
		utils.HandleServiceError(c, "Failed to create folder", err)
		return
	}
	utils.CreatedResponse(c, "Folder created successfully", folder)
}
