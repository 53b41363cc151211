package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"minidrive/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func seedNodes(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	nodes := []*models.Node{
		{ID: "root", Name: "Projects", Kind: models.KindFolder, OwnerID: "u1"},
		{ID: "a", Name: "alpha.txt", Kind: models.KindFile, OwnerID: "u1", ParentID: models.StringPtr("root"), SizeBytes: 10, MimeType: "text/plain"},
		{ID: "b", Name: "Beta.png", Kind: models.KindFile, OwnerID: "u1", ParentID: models.StringPtr("root"), SizeBytes: 500, MimeType: "image/png"},
		{ID: "c", Name: "gamma", Kind: models.KindFolder, OwnerID: "u1", ParentID: models.StringPtr("root")},
		{ID: "other", Name: "alpha-copy.txt", Kind: models.KindFile, OwnerID: "u2", SizeBytes: 10},
	}
	for _, n := range nodes {
		require.NoError(t, s.Nodes().Create(ctx, n))
	}
}

func ids(nodes []*models.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestMemoryNodes_Search(t *testing.T) {
	s := NewMemoryStore()
	seedNodes(t, s)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter NodeFilter
		want   []string
	}{
		{"owner", NodeFilter{OwnerID: "u1"}, []string{"root", "a", "b", "c"}},
		{"name substring ignores case", NodeFilter{NameContains: "ALPHA"}, []string{"a", "other"}},
		{"root only", NodeFilter{OwnerID: "u1", ParentID: new(string)}, []string{"root"}},
		{"children", NodeFilter{ParentID: models.StringPtr("root")}, []string{"a", "b", "c"}},
		{"kind", NodeFilter{OwnerID: "u1", Kind: models.KindFolder}, []string{"root", "c"}},
		{"mime type", NodeFilter{MimeType: "IMAGE/PNG"}, []string{"b"}},
		{"size range skips folders", NodeFilter{OwnerID: "u1", MinSize: int64Ptr(0), MaxSize: int64Ptr(100)}, []string{"a"}},
		{"ids", NodeFilter{IDs: []string{"b", "other"}}, []string{"b", "other"}},
		{"paged by name", NodeFilter{OwnerID: "u1", Limit: 2, Offset: 1}, []string{"root", "a"}},
		{"offset past end", NodeFilter{OwnerID: "u1", Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Nodes().Search(ctx, tt.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, ids(got))
		})
	}
}

func TestMemoryNodes_SoftDeleteLifecycle(t *testing.T) {
	s := NewMemoryStore()
	seedNodes(t, s)
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Nodes().MarkDeleted(ctx, "a", at))

	n, err := s.Nodes().Get(ctx, "a")
	require.NoError(t, err, "Get resolves deleted nodes")
	assert.True(t, n.IsDeleted)
	require.NotNil(t, n.DeletedAt)
	assert.True(t, at.Equal(*n.DeletedAt))

	live, err := s.Nodes().ListChildren(ctx, "root", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(live))
	all, err := s.Nodes().ListChildren(ctx, "root", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, err := s.Nodes().Search(ctx, NodeFilter{NameContains: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, ids(found))

	before, err := s.Nodes().ListDeletedBefore(ctx, at.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(before))
	before, err = s.Nodes().ListDeletedBefore(ctx, at)
	require.NoError(t, err)
	assert.Empty(t, before)

	owned, err := s.Nodes().ListDeletedByOwner(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(owned))

	usage, err := s.Nodes().Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, Usage{Files: 1, Folders: 2, TotalBytes: 500}, usage)

	require.NoError(t, s.Nodes().Restore(ctx, "a", at.Add(time.Hour)))
	n, err = s.Nodes().Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, n.IsDeleted)
	assert.Nil(t, n.DeletedAt)
}

func TestMemoryNodes_PurgeRemovesGrants(t *testing.T) {
	s := NewMemoryStore()
	seedNodes(t, s)
	ctx := context.Background()

	require.NoError(t, s.Permissions().Upsert(ctx, &models.Permission{NodeID: "a", UserID: "u2", Level: models.LevelView}))
	require.NoError(t, s.Permissions().Upsert(ctx, &models.Permission{NodeID: "b", UserID: "u2", Level: models.LevelView}))

	require.NoError(t, s.Nodes().Purge(ctx, "a"))
	_, err := s.Nodes().Get(ctx, "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.Nodes().Purge(ctx, "a"), models.ErrNotFound)

	grants, err := s.Permissions().ListByUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, "b", grants[0].NodeID)
}

func TestMemoryNodes_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	seedNodes(t, s)
	ctx := context.Background()

	n, err := s.Nodes().Get(ctx, "a")
	require.NoError(t, err)
	n.Name = "changed"
	*n.ParentID = "elsewhere"

	again, err := s.Nodes().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha.txt", again.Name)
	assert.Equal(t, "root", again.Parent())
}

func TestMemoryNodes_Update(t *testing.T) {
	s := NewMemoryStore()
	seedNodes(t, s)
	ctx := context.Background()

	require.NoError(t, s.Nodes().Update(ctx, &models.Node{ID: "a", Name: "renamed.txt", ParentID: models.StringPtr("c")}))
	n, err := s.Nodes().Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "renamed.txt", n.Name)
	assert.Equal(t, "c", n.Parent())
	assert.Equal(t, models.KindFile, n.Kind, "kind is not touched")

	err = s.Nodes().Update(ctx, &models.Node{ID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryPermissions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	p := &models.Permission{NodeID: "n1", UserID: "u2", Level: models.LevelView}
	require.NoError(t, s.Permissions().Upsert(ctx, p))
	require.NoError(t, s.Permissions().Upsert(ctx, &models.Permission{NodeID: "n1", UserID: "u2", Level: models.LevelEdit}))

	got, err := s.Permissions().Get(ctx, "n1", "u2")
	require.NoError(t, err)
	assert.Equal(t, models.LevelEdit, got.Level, "upsert overwrites the level")

	byNode, err := s.Permissions().ListByNode(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, byNode, 1)

	require.NoError(t, s.Permissions().Delete(ctx, "n1", "u2"))
	assert.ErrorIs(t, s.Permissions().Delete(ctx, "n1", "u2"), models.ErrNotFound)
	_, err = s.Permissions().Get(ctx, "n1", "u2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryJobs_Transition(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.Jobs().Create(ctx, &models.ArchiveJob{ID: "j1", Status: models.JobPending, CreatedAt: now}))
	require.NoError(t, s.Jobs().Create(ctx, &models.ArchiveJob{ID: "j0", Status: models.JobPending, CreatedAt: now.Add(-time.Minute)}))

	pending, err := s.Jobs().ListByStatus(ctx, models.JobPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "j0", pending[0].ID, "oldest first")

	require.NoError(t, s.Jobs().Transition(ctx, "j1", models.JobPending, models.JobProcessing, "", "", now))
	err = s.Jobs().Transition(ctx, "j1", models.JobPending, models.JobProcessing, "", "", now)
	assert.ErrorIs(t, err, models.ErrInvalidState, "a second claim loses")

	require.NoError(t, s.Jobs().Transition(ctx, "j1", models.JobProcessing, models.JobReady, "ref-1", "", now))
	j, err := s.Jobs().Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobReady, j.Status)
	assert.Equal(t, "ref-1", j.ResultRef)

	err = s.Jobs().Transition(ctx, "missing", models.JobPending, models.JobProcessing, "", "", now)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Users().Create(ctx, &models.User{ID: "u1", Email: "Alice@Example.com", Name: "Alice"}))
	err := s.Users().Create(ctx, &models.User{ID: "u2", Email: "alice@example.com"})
	assert.ErrorIs(t, err, models.ErrValidation, "emails are unique ignoring case")

	u, err := s.Users().GetByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = s.Users().Get(ctx, "u2")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOpen_Memory(t *testing.T) {
	st, err := Open(context.Background(), Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	_, err = Open(context.Background(), Options{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestMemoryStore_WithTxSerializes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var inside, overlaps atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
				if inside.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Zero(t, overlaps.Load())

	err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		return tx.WithTx(ctx, func(ctx context.Context, inner Store) error {
			return inner.Users().Create(ctx, &models.User{ID: "u9", Email: "nested@example.com", Name: "Nested"})
		})
	})
	require.NoError(t, err)
	_, err = s.Users().Get(ctx, "u9")
	assert.NoError(t, err)
}
