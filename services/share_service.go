package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"minidrive/metrics"
	"minidrive/models"
	"minidrive/store"
	"minidrive/utils"

	"github.com/rs/zerolog"
)

// ShareService is the user-facing side of sharing: it resolves recipients by
// email, authorizes the sharer and sends the notice.
type ShareService struct {
	store    store.Store
	perms    *PermissionService
	notifier Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

func NewShareService(st store.Store, perms *PermissionService, notifier Notifier, m *metrics.Metrics) *ShareService {
	if notifier == nil {
		notifier = NewLogNotifier()
	}
	return &ShareService{
		store:    st,
		perms:    perms,
		notifier: notifier,
		metrics:  m,
		logger:   utils.ComponentLogger("share"),
	}
}

type ShareResult struct {
	Node          *models.Node       `json:"node"`
	Recipient     *models.User       `json:"recipient"`
	Level         models.AccessLevel `json:"level"`
	NodesAffected int                `json:"nodes_affected"`
}

// Share grants level on nodeID to the user registered under email. The
// sharer needs EDIT on the node and only passes on descendants it can edit.
func (s *ShareService) Share(ctx context.Context, sharerID, nodeID, email, level string) (*ShareResult, error) {
	lvl, err := models.ParseAccessLevel(level)
	if err != nil {
		return nil, err
	}
	email = strings.TrimSpace(email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}

	node, err := s.perms.Authorize(ctx, sharerID, nodeID, true)
	if err != nil {
		return nil, err
	}

	recipient, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("recipient %s: %w", email, err)
	}
	if recipient.ID == sharerID {
		return nil, fmt.Errorf("%w: cannot share with yourself", models.ErrValidation)
	}
	if recipient.ID == node.OwnerID {
		return nil, fmt.Errorf("%w: user already owns this item", models.ErrValidation)
	}

	affected, err := s.perms.ShareNodeAs(ctx, sharerID, node.ID, recipient.ID, lvl)
	if err != nil {
		return nil, err
	}
	s.metrics.ShareGranted(string(lvl))

	s.logger.Info().
		Str("node_id", node.ID).
		Str("sharer_id", sharerID).
		Str("recipient_id", recipient.ID).
		Str("level", string(lvl)).
		Int("nodes", affected).
		Msg("Node shared")

	s.notify(ctx, sharerID, recipient, node, lvl)

	return &ShareResult{
		Node:          node,
		Recipient:     recipient,
		Level:         lvl,
		NodesAffected: affected,
	}, nil
}

func (s *ShareService) notify(ctx context.Context, sharerID string, recipient *models.User, node *models.Node, lvl models.AccessLevel) {
	sharerName := "Someone"
	if sharer, err := s.store.Users().Get(ctx, sharerID); err == nil {
		sharerName = sharer.DisplayName()
	}

	err := s.notifier.NotifyShare(ctx, models.ShareNotification{
		RecipientEmail: recipient.Email,
		SharerName:     sharerName,
		NodeName:       node.Name,
		NodeKind:       node.Kind,
		Level:          lvl,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("recipient", recipient.Email).Msg("Failed to send share notification")
	}
}

// Revoke removes targetUserID's grants from nodeID and its subtree. The
// caller needs EDIT on the node.
func (s *ShareService) Revoke(ctx context.Context, userID, nodeID, targetUserID string) (int, error) {
	node, err := s.perms.Authorize(ctx, userID, nodeID, true)
	if err != nil {
		return 0, err
	}
	if targetUserID == node.OwnerID {
		return 0, fmt.Errorf("%w: cannot revoke the owner's access", models.ErrInvalidState)
	}

	removed, err := s.perms.RevokeNode(ctx, node.ID, targetUserID)
	if err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, fmt.Errorf("%w: user %s has no access to revoke", models.ErrNotFound, targetUserID)
	}

	s.logger.Info().Str("node_id", node.ID).Str("target_id", targetUserID).Int("grants", removed).Msg("Access revoked")
	return removed, nil
}

// ListGrants lists the explicit grants on nodeID with each grantee's
// identity. The caller needs EDIT on the node.
func (s *ShareService) ListGrants(ctx context.Context, userID, nodeID string) ([]models.Share, error) {
	if _, err := s.perms.Authorize(ctx, userID, nodeID, true); err != nil {
		return nil, err
	}
	grants, err := s.perms.ListGrants(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	shares := make([]models.Share, 0, len(grants))
	for _, g := range grants {
		share := models.Share{
			NodeID:    g.NodeID,
			UserID:    g.UserID,
			Level:     g.Level,
			CreatedAt: g.CreatedAt,
			UpdatedAt: g.UpdatedAt,
		}
		u, err := s.store.Users().Get(ctx, g.UserID)
		switch {
		case err == nil:
			share.Email = u.Email
			share.Name = u.Name
		case !errors.Is(err, models.ErrNotFound):
			return nil, fmt.Errorf("failed to load grantee %s: %w", g.UserID, err)
		}
		shares = append(shares, share)
	}
	return shares, nil
}

// SharedWithMe lists the live nodes other users granted to userID.
func (s *ShareService) SharedWithMe(ctx context.Context, userID string) ([]*models.Node, error) {
	return s.perms.ListSharedWith(ctx, userID)
}
