package controllers

import (
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
)

type ShareController struct {
	shareService *services.ShareService
}

func NewShareController(shareService *services.ShareService) *ShareController {
	return &ShareController{shareService: shareService}
}

type ShareRequest struct {
	Email string `json:"email" validate:"required,email"`
	Level string `json:"level" validate:"required"`
}

// ShareNode handles POST /files/:id/share.
func (sc *ShareController) ShareNode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req ShareRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := sc.shareService.Share(c.Request.Context(), userID, c.Param("id"), req.Email, req.Level)
	if err != nil {
		utils.HandleServiceError(c, "Share failed", err)
		return
	}
	utils.CreatedResponse(c, "Shared successfully", res)
}

// ListPermissions handles GET /files/:id/permissions.
func (sc *ShareController) ListPermissions(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	shares, err := sc.shareService.ListGrants(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, "Failed to list permissions", err)
		return
	}
	utils.SuccessResponse(c, "Permissions retrieved", shares)
}

// RevokePermission handles DELETE /files/:id/permissions/:userId.
func (sc *ShareController) RevokePermission(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	removed, err := sc.shareService.Revoke(c.Request.Context(), userID, c.Param("id"), c.Param("userId"))
	if err != nil {
		utils.HandleServiceError(c, "Revoke failed", err)
		return
	}
	utils.SuccessResponse(c, "Access revoked", gin.H{"removed": removed})
}

// SharedWithMe handles GET /shared.
func (sc *ShareController) SharedWithMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	nodes, err := sc.shareService.SharedWithMe(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, "Failed to list shared items", err)
		return
	}
	utils.SuccessResponse(c, "Shared items retrieved", nodes)
}
