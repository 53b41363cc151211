package controllers

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"minidrive/models"
	"minidrive/services"
	"minidrive/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type FileController struct {
	nodeService *services.NodeService
	maxFileSize int64
}

func NewFileController(nodeService *services.NodeService, maxFileSize int64) *FileController {
	return &FileController{
		nodeService: nodeService,
		maxFileSize: maxFileSize,
	}
}

// UpdateNodeRequest renames and/or moves a node. An empty parent_id moves
// the node to the root.
type UpdateNodeRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=255"`
	ParentID *string `json:"parent_id"`
}

// maxUploadParts caps how many files one request may carry.
const maxUploadParts = 20

// UploadFailure names a part of a batch upload that was not stored.
type UploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// BatchUploadResult is the body of a multi-file upload.
type BatchUploadResult struct {
	Uploaded []*models.Node  `json:"uploaded"`
	Failed   []UploadFailure `json:"failed"`
}

// UploadFile handles POST /files. A single multipart "file" answers with the
// created node; "files[]" (or repeated "file") answers with a BatchUploadResult.
// Optional form field "parent_id" applies to every part.
func (fc *FileController) UploadFile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	if fc.maxFileSize > 0 {
		// room for the multipart envelope
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, fc.maxFileSize*maxUploadParts+1<<20)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.PayloadTooLargeResponse(c, fmt.Sprintf("Upload exceeds maximum size of %d bytes per file", fc.maxFileSize))
			return
		}
		utils.BadRequestResponse(c, "Invalid multipart form", err.Error())
		return
	}

	batch := true
	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["file"]
		batch = len(headers) > 1
	}
	if len(headers) == 0 {
		utils.BadRequestResponse(c, "No file provided", "expected multipart field file or files[]")
		return
	}
	if len(headers) > maxUploadParts {
		utils.BadRequestResponse(c, "Too many files", fmt.Sprintf("at most %d files per request", maxUploadParts))
		return
	}

	parentID := c.PostForm("parent_id")
	if !batch {
		node, err := fc.uploadPart(c, userID, parentID, headers[0])
		if err != nil {
			fc.writeUploadError(c, headers[0].Filename, err)
			return
		}
		utils.CreatedResponse(c, "File uploaded successfully", node)
		return
	}

	result := BatchUploadResult{Uploaded: []*models.Node{}, Failed: []UploadFailure{}}
	var firstErr error
	for _, header := range headers {
		node, err := fc.uploadPart(c, userID, parentID, header)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Warn().Err(err).Str("user_id", userID).Str("file", header.Filename).Msg("Upload part failed")
			result.Failed = append(result.Failed, UploadFailure{Name: header.Filename, Error: uploadErrorText(err)})
			continue
		}
		result.Uploaded = append(result.Uploaded, node)
	}

	if len(result.Uploaded) == 0 {
		fc.writeUploadError(c, result.Failed[0].Name, firstErr)
		return
	}
	message := "Files uploaded successfully"
	if len(result.Failed) > 0 {
		message = fmt.Sprintf("%d of %d files uploaded", len(result.Uploaded), len(headers))
	}
	utils.CreatedResponse(c, message, result)
}

func (fc *FileController) uploadPart(c *gin.Context, userID, parentID string, header *multipart.FileHeader) (*models.Node, error) {
	if fc.maxFileSize > 0 && header.Size > fc.maxFileSize {
		return nil, fmt.Errorf("%w: %s exceeds maximum size of %d bytes", errPartTooLarge, header.Filename, fc.maxFileSize)
	}
	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: could not read %s", models.ErrValidation, header.Filename)
	}
	defer src.Close()

	return fc.nodeService.CreateFile(c.Request.Context(), userID, services.FileUpload{
		Name:     header.Filename,
		ParentID: parentID,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		Content:  src,
	})
}

var errPartTooLarge = errors.New("file too large")

func (fc *FileController) writeUploadError(c *gin.Context, name string, err error) {
	if errors.Is(err, errPartTooLarge) {
		utils.PayloadTooLargeResponse(c, fmt.Sprintf("File exceeds maximum size of %d bytes", fc.maxFileSize))
		return
	}
	utils.HandleServiceError(c, "Upload failed: "+name, err)
}

// uploadErrorText is what a batch response may say about a failed part.
func uploadErrorText(err error) string {
	if errors.Is(err, errPartTooLarge) || utils.StatusFor(err) != http.StatusInternalServerError {
		return err.Error()
	}
	return "internal error"
}

// GetNode handles GET /files/:id.
func (fc *FileController) GetNode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	node, err := fc.nodeService.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, "Failed to get item", err)
		return
	}
	utils.SuccessResponse(c, "Item retrieved successfully", node)
}

// DownloadFile handles GET /files/:id/content and streams the bytes.
func (fc *FileController) DownloadFile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	node, rc, err := fc.nodeService.OpenContent(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, "Download failed", err)
		return
	}
	defer rc.Close()

	contentType := node.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", node.Name))
	if node.SizeBytes > 0 {
		c.Header("Content-Length", fmt.Sprintf("%d", node.SizeBytes))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Warn().Err(err).Str("node_id", node.ID).Msg("Download interrupted")
	}
}

// UpdateNode handles PATCH /files/:id.
func (fc *FileController) UpdateNode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req UpdateNodeRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Name == nil && req.ParentID == nil {
		utils.BadRequestResponse(c, "Nothing to update", "provide name and/or parent_id")
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")

	if req.ParentID != nil {
		if _, err := fc.nodeService.Move(ctx, userID, id, *req.ParentID); err != nil {
			utils.HandleServiceError(c, "Move failed", err)
			return
		}
	}
	if req.Name != nil {
		if _, err := fc.nodeService.Rename(ctx, userID, id, *req.Name); err != nil {
			utils.HandleServiceError(c, "Rename failed", err)
			return
		}
	}

	node, err := fc.nodeService.Get(ctx, userID, id)
	if err != nil {
		utils.HandleServiceError(c, "Failed to get item", err)
		return
	}
	utils.SuccessResponse(c, "Item updated successfully", node)
}

// DeleteNode handles DELETE /files/:id (move to trash).
func (fc *FileController) DeleteNode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	count, err := fc.nodeService.SoftDelete(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		utils.HandleServiceError(c, "Delete failed", err)
		return
	}
	utils.SuccessResponse(c, "Moved to trash", gin.H{"deleted": count})
}
