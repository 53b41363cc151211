package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"minidrive/models"
	"minidrive/store"

	"github.com/dustin/go-humanize"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 200
)

// SearchQuery filters the nodes a user can see. Type is FILE, FOLDER or a
// MIME type. The size range matches files only.
type SearchQuery struct {
	Query    string
	Type     string
	ParentID *string
	MinSize  *int64
	MaxSize  *int64
	Limit    int
	Offset   int
}

// Search returns live nodes the user owns or holds a grant on, ordered by
// name.
func (s *NodeService) Search(ctx context.Context, userID string, q SearchQuery) ([]*models.Node, error) {
	if q.MinSize != nil && q.MaxSize != nil && *q.MinSize > *q.MaxSize {
		return nil, fmt.Errorf("%w: min_size cannot exceed max_size", models.ErrValidation)
	}
	if q.Offset < 0 {
		return nil, fmt.Errorf("%w: offset cannot be negative", models.ErrValidation)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	filter := store.NodeFilter{
		ParentID:     q.ParentID,
		NameContains: strings.TrimSpace(q.Query),
		MinSize:      q.MinSize,
		MaxSize:      q.MaxSize,
		// enough rows from each source to cut the merged page
		Limit: q.Offset + limit,
	}
	if t := strings.TrimSpace(q.Type); t != "" {
		if kind, ok := models.ParseNodeKind(t); ok {
			filter.Kind = kind
		} else {
			filter.MimeType = t
		}
	}

	owned := filter
	owned.OwnerID = userID
	results, err := s.store.Nodes().Search(ctx, owned)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	grants, err := s.store.Permissions().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	if len(grants) > 0 {
		shared := filter
		shared.IDs = make([]string, 0, len(grants))
		for _, g := range grants {
			shared.IDs = append(shared.IDs, g.NodeID)
		}
		more, err := s.store.Nodes().Search(ctx, shared)
		if err != nil {
			return nil, fmt.Errorf("search failed: %w", err)
		}
		results = mergeNodes(results, more)
	}

	if q.Offset >= len(results) {
		return []*models.Node{}, nil
	}
	end := q.Offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[q.Offset:end], nil
}

// mergeNodes unions two result sets by id and keeps name order.
func mergeNodes(a, b []*models.Node) []*models.Node {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]*models.Node, 0, len(a)+len(b))
	for _, list := range [][]*models.Node{a, b} {
		for _, n := range list {
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UsageStats summarizes what a user owns.
type UsageStats struct {
	Files      int64  `json:"files"`
	Folders    int64  `json:"folders"`
	TotalBytes int64  `json:"total_bytes"`
	TotalHuman string `json:"total_human"`
	InTrash    int    `json:"in_trash"`
	SharedWith int    `json:"shared_with_me"`
}

type AnalyticsService struct {
	store store.Store
}

func NewAnalyticsService(st store.Store) *AnalyticsService {
	return &AnalyticsService{store: st}
}

// Usage counts the user's live files and folders, trashed nodes and
// incoming grants.
func (s *AnalyticsService) Usage(ctx context.Context, userID string) (*UsageStats, error) {
	u, err := s.store.Nodes().Usage(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage: %w", err)
	}
	trashed, err := s.store.Nodes().ListDeletedByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count trash: %w", err)
	}
	grants, err := s.store.Permissions().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count shares: %w", err)
	}

	if u.TotalBytes < 0 {
		u.TotalBytes = 0
	}
	return &UsageStats{
		Files:      u.Files,
		Folders:    u.Folders,
		TotalBytes: u.TotalBytes,
		TotalHuman: humanize.IBytes(uint64(u.TotalBytes)),
		InTrash:    len(trashed),
		SharedWith: len(grants),
	}, nil
}
