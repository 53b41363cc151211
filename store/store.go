// Package store persists the node tree, grants, archive jobs and users.
// Every backend reports a missing record as models.ErrNotFound.
package store

import (
	"context"
	"time"

	"minidrive/models"
)

// NodeFilter narrows Search. Zero values mean "no constraint". Search never
// returns soft-deleted nodes.
type NodeFilter struct {
	OwnerID string
	// IDs restricts the result to the given node ids.
	IDs []string
	// ParentID nil means any parent; a pointer to "" means root nodes only.
	// models.StringPtr("") is nil, so use new(string) for root.
	ParentID     *string
	NameContains string
	Kind         models.NodeKind
	MimeType     string
	// MinSize and MaxSize apply to files only; folders never match a size bound.
	MinSize *int64
	MaxSize *int64
	Limit   int
	Offset  int
}

// HasSizeBound reports whether either size bound is set.
func (f NodeFilter) HasSizeBound() bool {
	return f.MinSize != nil || f.MaxSize != nil
}

// Usage aggregates one owner's live nodes.
type Usage struct {
	Files      int64
	Folders    int64
	TotalBytes int64
}

type NodeRepository interface {
	Create(ctx context.Context, n *models.Node) error
	// Get resolves soft-deleted nodes too.
	Get(ctx context.Context, id string) (*models.Node, error)
	// ListChildren returns direct children ordered by name.
	ListChildren(ctx context.Context, parentID string, includeDeleted bool) ([]*models.Node, error)
	Search(ctx context.Context, f NodeFilter) ([]*models.Node, error)
	// Update persists name, parent and updatedAt.
	Update(ctx context.Context, n *models.Node) error
	MarkDeleted(ctx context.Context, id string, at time.Time) error
	Restore(ctx context.Context, id string, at time.Time) error
	ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Node, error)
	ListDeletedByOwner(ctx context.Context, ownerID string) ([]*models.Node, error)
	// Purge removes the node record and every grant on it.
	Purge(ctx context.Context, id string) error
	Usage(ctx context.Context, ownerID string) (Usage, error)
}

type PermissionRepository interface {
	// Upsert creates the (node, user) grant or overwrites its level.
	Upsert(ctx context.Context, p *models.Permission) error
	Get(ctx context.Context, nodeID, userID string) (*models.Permission, error)
	ListByNode(ctx context.Context, nodeID string) ([]*models.Permission, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Permission, error)
	Delete(ctx context.Context, nodeID, userID string) error
}

type JobRepository interface {
	Create(ctx context.Context, j *models.ArchiveJob) error
	Get(ctx context.Context, id string) (*models.ArchiveJob, error)
	// Transition moves a job from one status to the next only if the stored
	// status still equals from. A mismatch is models.ErrInvalidState.
	Transition(ctx context.Context, id string, from, to models.JobStatus, resultRef, errorMessage string, at time.Time) error
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.ArchiveJob, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Store bundles the repositories. WithTx runs fn against a Store whose
// repositories share one transaction; fn's error rolls it back.
type Store interface {
	Nodes() NodeRepository
	Permissions() PermissionRepository
	Jobs() JobRepository
	Users() UserRepository
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Close(ctx context.Context) error
}
