package services

import (
	"context"
	"fmt"
	"time"

	"minidrive/models"
	"minidrive/store"
	"minidrive/utils"

	"github.com/rs/zerolog"
)

// TrashService lists and restores soft-deleted nodes. Permanent removal is
// the sweeper's job.
type TrashService struct {
	store     store.Store
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

func NewTrashService(st store.Store, retention time.Duration) *TrashService {
	return &TrashService{
		store:     st,
		retention: retention,
		logger:    utils.ComponentLogger("trash"),
		now:       time.Now,
	}
}

// List returns the user's trashed items. Nodes deleted together with their
// parent are folded into the parent's entry.
func (s *TrashService) List(ctx context.Context, userID string) ([]models.TrashItem, error) {
	deleted, err := s.store.Nodes().ListDeletedByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}

	byID := make(map[string]*models.Node, len(deleted))
	for _, n := range deleted {
		byID[n.ID] = n
	}

	items := make([]models.TrashItem, 0, len(deleted))
	for _, n := range deleted {
		if n.DeletedAt == nil {
			continue
		}
		if p, ok := byID[n.Parent()]; ok && p.DeletedAt != nil && p.DeletedAt.Equal(*n.DeletedAt) {
			continue
		}
		items = append(items, models.TrashItem{
			Node:    *n,
			PurgeAt: n.DeletedAt.Add(s.retention),
		})
	}
	return items, nil
}

// Restore brings a trashed node back along with the descendants that were
// deleted in the same operation. Only the owner may restore, and the parent
// must be live again first. It returns the number of nodes restored.
func (s *TrashService) Restore(ctx context.Context, userID, nodeID string) (int, error) {
	root, err := s.store.Nodes().Get(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	if root.OwnerID != userID {
		return 0, fmt.Errorf("%w: only the owner can restore this item", models.ErrPermissionDenied)
	}
	if !root.IsDeleted || root.DeletedAt == nil {
		return 0, fmt.Errorf("%w: %s is not in the trash", models.ErrInvalidState, nodeID)
	}

	if parentID := root.Parent(); parentID != "" {
		parent, err := s.store.Nodes().Get(ctx, parentID)
		if err != nil {
			return 0, fmt.Errorf("%w: parent folder no longer exists", models.ErrInvalidState)
		}
		if parent.IsDeleted {
			return 0, fmt.Errorf("%w: restore the parent folder first", models.ErrInvalidState)
		}
	}

	parentID := root.Parent()
	siblings, err := s.store.Nodes().Search(ctx, store.NodeFilter{OwnerID: root.OwnerID, ParentID: &parentID})
	if err != nil {
		return 0, fmt.Errorf("failed to check for name conflicts: %w", err)
	}
	for _, sib := range siblings {
		if sib.Name == root.Name {
			return 0, fmt.Errorf("%w: an item named '%s' already exists here", models.ErrInvalidState, root.Name)
		}
	}

	deletedAt := *root.DeletedAt
	now := s.now().UTC()
	var restored int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		restored = 0
		return walkSubtree(ctx, tx.Nodes(), root, true, func(n *models.Node, _ string) error {
			if !n.IsDeleted || n.DeletedAt == nil || !n.DeletedAt.Equal(deletedAt) {
				return errSkipChildren
			}
			if err := tx.Nodes().Restore(ctx, n.ID, now); err != nil {
				return err
			}
			restored++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to restore %s: %w", nodeID, err)
	}

	s.logger.Info().Str("node_id", nodeID).Int("count", restored).Msg("Restored from trash")
	return restored, nil
}
