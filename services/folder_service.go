package services

import (
	"context"
	"fmt"
	"time"

	"minidrive/models"
	"minidrive/store"
	"minidrive/utils"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CreateFolder adds an empty folder under parentID, or at the caller's root
// when parentID is empty.
func (s *NodeService) CreateFolder(ctx context.Context, userID, name, parentID string) (*models.Node, error) {
	if err := utils.ValidateNodeName(name); err != nil {
		return nil, err
	}

	ownerID, err := s.resolveParent(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkSiblingName(ctx, ownerID, parentID, name, ""); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	folder := &models.Node{
		ID:        primitive.NewObjectID().Hex(),
		Name:      name,
		Kind:      models.KindFolder,
		OwnerID:   ownerID,
		ParentID:  models.StringPtr(parentID),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.insertNode(ctx, folder, userID); err != nil {
		return nil, err
	}

	s.logger.Info().Str("node_id", folder.ID).Str("owner_id", ownerID).Msg("Folder created")
	return folder, nil
}

// Rename changes a node's name. Requires EDIT on the node.
func (s *NodeService) Rename(ctx context.Context, userID, nodeID, newName string) (*models.Node, error) {
	if err := utils.ValidateNodeName(newName); err != nil {
		return nil, err
	}
	node, err := s.perms.Authorize(ctx, userID, nodeID, true)
	if err != nil {
		return nil, err
	}
	if node.Name == newName {
		return node, nil
	}
	if err := s.checkSiblingName(ctx, node.OwnerID, node.Parent(), newName, node.ID); err != nil {
		return nil, err
	}

	node.Name = newName
	node.UpdatedAt = s.now().UTC()
	if err := s.store.Nodes().Update(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to rename %s: %w", nodeID, err)
	}
	return node, nil
}

// Move reparents a node. The caller needs EDIT on the node and on the target
// folder; moving to the root is reserved for the owner. A folder cannot move
// into itself or its own subtree, and nodes never change trees across owners.
func (s *NodeService) Move(ctx context.Context, userID, nodeID, newParentID string) (*models.Node, error) {
	node, err := s.perms.Authorize(ctx, userID, nodeID, true)
	if err != nil {
		return nil, err
	}
	if node.Parent() == newParentID {
		return node, nil
	}

	if newParentID == "" {
		if node.OwnerID != userID {
			return nil, fmt.Errorf("%w: only the owner can move an item to the root", models.ErrPermissionDenied)
		}
	} else {
		target, err := s.perms.Authorize(ctx, userID, newParentID, true)
		if err != nil {
			return nil, err
		}
		if !target.IsFolder() {
			return nil, fmt.Errorf("%w: target %s is not a folder", models.ErrInvalidState, newParentID)
		}
		if target.OwnerID != node.OwnerID {
			return nil, fmt.Errorf("%w: cannot move items between different owners", models.ErrInvalidState)
		}
		if err := s.checkNotAncestor(ctx, node.ID, target); err != nil {
			return nil, err
		}
	}

	if err := s.checkSiblingName(ctx, node.OwnerID, newParentID, node.Name, node.ID); err != nil {
		return nil, err
	}

	node.ParentID = models.StringPtr(newParentID)
	node.UpdatedAt = s.now().UTC()
	if err := s.store.Nodes().Update(ctx, node); err != nil {
		return nil, fmt.Errorf("failed to move %s: %w", nodeID, err)
	}
	return node, nil
}

// checkNotAncestor walks up from target and fails if it meets nodeID.
func (s *NodeService) checkNotAncestor(ctx context.Context, nodeID string, target *models.Node) error {
	seen := make(map[string]struct{})
	for cur := target; cur != nil; {
		if cur.ID == nodeID {
			return fmt.Errorf("%w: cannot move a folder into itself or its descendants", models.ErrInvalidState)
		}
		if _, dup := seen[cur.ID]; dup {
			return fmt.Errorf("%w: cycle detected at node %s", models.ErrInvalidState, cur.ID)
		}
		seen[cur.ID] = struct{}{}

		parentID := cur.Parent()
		if parentID == "" {
			return nil
		}
		parent, err := s.store.Nodes().Get(ctx, parentID)
		if err != nil {
			return fmt.Errorf("failed to resolve ancestor %s: %w", parentID, err)
		}
		cur = parent
	}
	return nil
}

// SoftDelete moves a node and its live subtree to the trash. Every affected
// node gets the same deletedAt, which is what Restore keys on. It returns the
// number of nodes deleted.
func (s *NodeService) SoftDelete(ctx context.Context, userID, nodeID string) (int, error) {
	root, err := s.perms.Authorize(ctx, userID, nodeID, true)
	if err != nil {
		return 0, err
	}

	at := s.now().UTC().Truncate(time.Millisecond)
	var deleted int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		deleted = 0
		return walkSubtree(ctx, tx.Nodes(), root, false, func(n *models.Node, _ string) error {
			if err := tx.Nodes().MarkDeleted(ctx, n.ID, at); err != nil {
				return err
			}
			deleted++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s: %w", nodeID, err)
	}

	s.logger.Info().Str("node_id", nodeID).Str("user_id", userID).Int("count", deleted).Msg("Moved to trash")
	return deleted, nil
}
