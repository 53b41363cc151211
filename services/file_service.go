package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"minidrive/models"
	"minidrive/storage"
	"minidrive/store"
	"minidrive/utils"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const genericMimeType = "application/octet-stream"

// NodeService owns the tree mutations: upload, folder creation, rename,
// move, soft delete, lookup and search. Every call is gated by
// PermissionService.
type NodeService struct {
	store       store.Store
	storage     storage.Storage
	perms       *PermissionService
	maxFileSize int64
	logger      zerolog.Logger
	now         func() time.Time
}

func NewNodeService(st store.Store, blobs storage.Storage, perms *PermissionService, maxFileSize int64) *NodeService {
	return &NodeService{
		store:       st,
		storage:     blobs,
		perms:       perms,
		maxFileSize: maxFileSize,
		logger:      utils.ComponentLogger("nodes"),
		now:         time.Now,
	}
}

// FileUpload describes one incoming file. Size is what the client declared;
// the stored size is what was actually read.
type FileUpload struct {
	Name     string
	ParentID string
	MimeType string
	Size     int64
	Content  io.Reader
}

// countingReader tracks how many bytes went to storage and fails once the
// limit is crossed.
type countingReader struct {
	r     io.Reader
	n     int64
	limit int64
}

var errTooLarge = errors.New("file exceeds size limit")

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.limit > 0 && c.n > c.limit {
		return n, errTooLarge
	}
	return n, err
}

// CreateFile stores the upload's bytes and records a FILE node. The caller
// needs EDIT on the parent folder; without a parent the file lands in the
// caller's root.
func (s *NodeService) CreateFile(ctx context.Context, userID string, up FileUpload) (*models.Node, error) {
	if err := utils.ValidateNodeName(up.Name); err != nil {
		return nil, err
	}
	if up.Content == nil {
		return nil, fmt.Errorf("%w: file content is required", models.ErrValidation)
	}
	if s.maxFileSize > 0 && up.Size > s.maxFileSize {
		return nil, fmt.Errorf("%w: file exceeds maximum size of %d bytes", models.ErrValidation, s.maxFileSize)
	}

	ownerID, err := s.resolveParent(ctx, userID, up.ParentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSiblingName(ctx, ownerID, up.ParentID, up.Name, ""); err != nil {
		return nil, err
	}

	body := bufio.NewReader(up.Content)
	mimeType := up.MimeType
	if mimeType == "" || strings.HasPrefix(mimeType, genericMimeType) {
		mimeType = detectMimeType(body)
	}

	counter := &countingReader{r: body, limit: s.maxFileSize}
	ref, err := s.storage.Save(ctx, counter, ownerID)
	if errors.Is(err, errTooLarge) {
		return nil, fmt.Errorf("%w: file exceeds maximum size of %d bytes", models.ErrValidation, s.maxFileSize)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", up.Name, err)
	}

	now := s.now().UTC()
	node := &models.Node{
		ID:         primitive.NewObjectID().Hex(),
		Name:       up.Name,
		Kind:       models.KindFile,
		OwnerID:    ownerID,
		ParentID:   models.StringPtr(up.ParentID),
		SizeBytes:  counter.n,
		MimeType:   mimeType,
		StorageRef: ref,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.insertNode(ctx, node, userID); err != nil {
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			s.logger.Warn().Err(delErr).Str("ref", ref).Msg("Failed to clean up orphaned upload")
		}
		return nil, err
	}

	s.logger.Info().
		Str("node_id", node.ID).
		Str("owner_id", ownerID).
		Int64("size", node.SizeBytes).
		Str("mime_type", mimeType).
		Msg("File uploaded")
	return node, nil
}

// detectMimeType sniffs the buffered head of r without consuming it.
func detectMimeType(r *bufio.Reader) string {
	head, _ := r.Peek(3072)
	if len(head) == 0 {
		return genericMimeType
	}
	return mimetype.Detect(head).String()
}

// insertNode writes node and, when the creator is not the tree owner, gives
// the creator EDIT on what they created.
func (s *NodeService) insertNode(ctx context.Context, node *models.Node, creatorID string) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.Nodes().Create(ctx, node); err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		if creatorID == node.OwnerID {
			return nil
		}
		return tx.Permissions().Upsert(ctx, &models.Permission{
			NodeID:    node.ID,
			UserID:    creatorID,
			Level:     models.LevelEdit,
			CreatedAt: node.CreatedAt,
			UpdatedAt: node.CreatedAt,
		})
	})
}

// resolveParent checks that parentID is a live folder the user can edit and
// returns the owner new children belong to. Root nodes belong to the caller.
func (s *NodeService) resolveParent(ctx context.Context, userID, parentID string) (string, error) {
	if parentID == "" {
		return userID, nil
	}
	parent, err := s.perms.Authorize(ctx, userID, parentID, true)
	if err != nil {
		return "", err
	}
	if !parent.IsFolder() {
		return "", fmt.Errorf("%w: parent %s is not a folder", models.ErrInvalidState, parentID)
	}
	return parent.OwnerID, nil
}

// checkSiblingName rejects a name already used by a live sibling other than
// exceptID.
func (s *NodeService) checkSiblingName(ctx context.Context, ownerID, parentID, name, exceptID string) error {
	siblings, err := s.store.Nodes().Search(ctx, store.NodeFilter{
		OwnerID:  ownerID,
		ParentID: &parentID,
	})
	if err != nil {
		return fmt.Errorf("failed to check for name conflicts: %w", err)
	}
	for _, sib := range siblings {
		if sib.ID != exceptID && sib.Name == name {
			return fmt.Errorf("%w: an item named '%s' already exists here", models.ErrValidation, name)
		}
	}
	return nil
}

// Get returns a node the user can view.
func (s *NodeService) Get(ctx context.Context, userID, nodeID string) (*models.Node, error) {
	return s.perms.Authorize(ctx, userID, nodeID, false)
}

// OpenContent streams a file the user can view. The caller closes the reader.
func (s *NodeService) OpenContent(ctx context.Context, userID, nodeID string) (*models.Node, io.ReadCloser, error) {
	node, err := s.perms.Authorize(ctx, userID, nodeID, false)
	if err != nil {
		return nil, nil, err
	}
	if !node.IsFile() {
		return nil, nil, fmt.Errorf("%w: %s is a folder", models.ErrInvalidState, nodeID)
	}
	rc, err := s.storage.Read(ctx, node.StorageRef)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, fmt.Errorf("%w: content of %s is missing: %w", models.ErrStorageIO, nodeID, err)
	}
	if err != nil {
		return nil, nil, err
	}
	return node, rc, nil
}
