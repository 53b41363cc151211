package controllers

import (
	"fmt"
	"io"
	"net/http"

	"minidrive/models"
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type ArchiveController struct {
	archiveService *services.ArchiveService
}

func NewArchiveController(archiveService *services.ArchiveService) *ArchiveController {
	return &ArchiveController{archiveService: archiveService}
}

// ArchiveStatus is a job as returned to its requester.
type ArchiveStatus struct {
	*models.ArchiveJob
	DownloadURL string `json:"download_url,omitempty"`
}

// InitiateArchive handles POST /folders/:id/archive.
func (ac *ArchiveController) InitiateArchive(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	jobID, err := ac.archiveService.Initiate(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		utils.HandleServiceError(c, "Failed to start archive", err)
		return
	}

	c.Header("Location", "/api/v1/archives/"+jobID)
	utils.AcceptedResponse(c, "Archive is being prepared", gin.H{
		"job_id": jobID,
		"status": models.JobPending,
	})
}

// GetStatus handles GET /archives/:jobId.
func (ac *ArchiveController) GetStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	job, err := ac.archiveService.GetStatus(c.Request.Context(), userID, c.Param("jobId"))
	if err != nil {
		utils.HandleServiceError(c, "Failed to get archive status", err)
		return
	}

	status := ArchiveStatus{ArchiveJob: job}
	if job.Status == models.JobReady {
		status.DownloadURL = services.DownloadURL(job.ID)
	}
	utils.SuccessResponse(c, "Archive status retrieved", status)
}

// DownloadArchive handles GET /archives/:jobId/file.
func (ac *ArchiveController) DownloadArchive(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	res, rc, err := ac.archiveService.OpenResult(c.Request.Context(), userID, c.Param("jobId"))
	if err != nil {
		utils.HandleServiceError(c, "Archive download failed", err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.FileName))
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Warn().Err(err).Str("job_id", res.Job.ID).Msg("Archive download interrupted")
	}
}
