package controllers

import (
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
)

type TrashController struct {
	trashService *services.TrashService
}

func NewTrashController(trashService *services.TrashService) *TrashController {
	return &TrashController{trashService: trashService}
}

// GetTrashItems handles GET /trash.
func (tc *TrashController) GetTrashItems(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	items, err := tc.trashService.List(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, "Failed to retrieve trash items", err)
		return
	}
	utils.SuccessResponse(c, "Trash items retrieved successfully", items)
}

// RestoreItem handles POST /trash/:id/restore.
func (tc *TrashController) RestoreItem(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	restored, err := tc.trashService.Restore(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, "Restore failed", err)
		return
	}
	utils.SuccessResponse(c, "Item restored successfully", gin.H{"restored": restored})
}
