package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"minidrive/models"
	"minidrive/store"
)

// PermissionService decides who may read or change a node and applies
// grants. A node's own grant row is the only source of truth: nothing is
// inherited from ancestors at check time.
type PermissionService struct {
	store store.Store
	now   func() time.Time
}

func NewPermissionService(st store.Store) *PermissionService {
	return &PermissionService{
		store: st,
		now:   time.Now,
	}
}

// HasAccess reports whether userID may view (or, with requireEdit, modify)
// nodeID. A missing or soft-deleted node is models.ErrNotFound.
func (s *PermissionService) HasAccess(ctx context.Context, userID, nodeID string, requireEdit bool) (bool, error) {
	node, err := liveNode(ctx, s.store.Nodes(), nodeID)
	if err != nil {
		return false, err
	}
	return checkAccess(ctx, s.store.Permissions(), userID, node, requireEdit)
}

// Authorize is HasAccess that returns the node and turns a refusal into
// models.ErrPermissionDenied.
func (s *PermissionService) Authorize(ctx context.Context, userID, nodeID string, requireEdit bool) (*models.Node, error) {
	node, err := liveNode(ctx, s.store.Nodes(), nodeID)
	if err != nil {
		return nil, err
	}
	ok, err := checkAccess(ctx, s.store.Permissions(), userID, node, requireEdit)
	if err != nil {
		return nil, err
	}
	if !ok {
		if requireEdit {
			return nil, fmt.Errorf("%w: edit access required on %s", models.ErrPermissionDenied, nodeID)
		}
		return nil, fmt.Errorf("%w: no access to %s", models.ErrPermissionDenied, nodeID)
	}
	return node, nil
}

func checkAccess(ctx context.Context, perms store.PermissionRepository, userID string, node *models.Node, requireEdit bool) (bool, error) {
	if node.OwnerID == userID {
		return true, nil
	}
	grant, err := perms.Get(ctx, node.ID, userID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load permission: %w", err)
	}
	return grant.Level.Satisfies(requireEdit), nil
}

// ShareNode grants level to targetUserID on nodeID. For a folder the grant
// is written to every non-deleted descendant that exists right now, all in
// one transaction. Nodes created later are not covered. It returns how many
// nodes received the grant.
func (s *PermissionService) ShareNode(ctx context.Context, nodeID, targetUserID string, level models.AccessLevel) (int, error) {
	return s.shareSubtree(ctx, "", nodeID, targetUserID, level)
}

// ShareNodeAs is ShareNode on behalf of sharerID: descendants sharerID
// cannot edit are left out, so a grantee never passes on more than it holds.
func (s *PermissionService) ShareNodeAs(ctx context.Context, sharerID, nodeID, targetUserID string, level models.AccessLevel) (int, error) {
	return s.shareSubtree(ctx, sharerID, nodeID, targetUserID, level)
}

func (s *PermissionService) shareSubtree(ctx context.Context, sharerID, nodeID, targetUserID string, level models.AccessLevel) (int, error) {
	if level != models.LevelView && level != models.LevelEdit {
		return 0, fmt.Errorf("%w: unknown permission level %q", models.ErrValidation, level)
	}

	root, err := liveNode(ctx, s.store.Nodes(), nodeID)
	if err != nil {
		return 0, err
	}
	if _, err := s.store.Users().Get(ctx, targetUserID); err != nil {
		return 0, fmt.Errorf("target user: %w", err)
	}

	now := s.now().UTC()
	var affected int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		// the transaction body may be retried
		affected = 0
		return walkSubtree(ctx, tx.Nodes(), root, false, func(n *models.Node, _ string) error {
			if n.OwnerID == targetUserID {
				return nil
			}
			if sharerID != "" {
				ok, err := checkAccess(ctx, tx.Permissions(), sharerID, n, true)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			affected++
			return tx.Permissions().Upsert(ctx, &models.Permission{
				NodeID:    n.ID,
				UserID:    targetUserID,
				Level:     level,
				CreatedAt: now,
				UpdatedAt: now,
			})
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to share %s: %w", nodeID, err)
	}
	return affected, nil
}

// RevokeNode removes targetUserID's grants from nodeID and its non-deleted
// descendants. It returns how many grants were removed.
func (s *PermissionService) RevokeNode(ctx context.Context, nodeID, targetUserID string) (int, error) {
	root, err := liveNode(ctx, s.store.Nodes(), nodeID)
	if err != nil {
		return 0, err
	}

	var removed int
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		removed = 0
		return walkSubtree(ctx, tx.Nodes(), root, false, func(n *models.Node, _ string) error {
			err := tx.Permissions().Delete(ctx, n.ID, targetUserID)
			if errors.Is(err, models.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			removed++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("failed to revoke on %s: %w", nodeID, err)
	}
	return removed, nil
}

// ListGrants returns every explicit grant on nodeID.
func (s *PermissionService) ListGrants(ctx context.Context, nodeID string) ([]*models.Permission, error) {
	if _, err := liveNode(ctx, s.store.Nodes(), nodeID); err != nil {
		return nil, err
	}
	return s.store.Permissions().ListByNode(ctx, nodeID)
}

// ListSharedWith returns the live nodes userID holds a grant on, ordered by
// name.
func (s *PermissionService) ListSharedWith(ctx context.Context, userID string) ([]*models.Node, error) {
	grants, err := s.store.Permissions().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	if len(grants) == 0 {
		return []*models.Node{}, nil
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.NodeID)
	}
	return s.store.Nodes().Search(ctx, store.NodeFilter{IDs: ids})
}
