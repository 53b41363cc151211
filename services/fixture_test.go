package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"minidrive/models"
	"minidrive/storage"
	"minidrive/store"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// manualExecutor queues tasks until the test runs them.
type manualExecutor struct {
	mu     sync.Mutex
	tasks  []func(ctx context.Context)
	closed bool
}

func (e *manualExecutor) Submit(task func(ctx context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return context.Canceled
	}
	e.tasks = append(e.tasks, task)
	return nil
}

func (e *manualExecutor) RunAll(ctx context.Context) int {
	e.mu.Lock()
	tasks := e.tasks
	e.tasks = nil
	e.mu.Unlock()
	for _, task := range tasks {
		task(ctx)
	}
	return len(tasks)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.ShareNotification
	err  error
}

func (n *recordingNotifier) NotifyShare(_ context.Context, msg models.ShareNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type fixture struct {
	ctx      context.Context
	st       *store.MemoryStore
	blobs    *storage.MemoryStorage
	perms    *PermissionService
	nodes    *NodeService
	shares   *ShareService
	trash    *TrashService
	archives *ArchiveService
	stats    *AnalyticsService
	exec     *manualExecutor
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	blobs := storage.NewMemoryStorage()
	perms := NewPermissionService(st)
	exec := &manualExecutor{}
	notifier := &recordingNotifier{}

	archives := NewArchiveService(st, blobs, perms, exec, nil)
	archives.tempDir = t.TempDir()

	return &fixture{
		ctx:      context.Background(),
		st:       st,
		blobs:    blobs,
		perms:    perms,
		nodes:    NewNodeService(st, blobs, perms, 1<<20),
		shares:   NewShareService(st, perms, notifier, nil),
		trash:    NewTrashService(st, 30*24*time.Hour),
		archives: archives,
		stats:    NewAnalyticsService(st),
		exec:     exec,
		notifier: notifier,
	}
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u := &models.User{
		ID:        primitive.NewObjectID().Hex(),
		Email:     strings.ToLower(name) + "@example.com",
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, f.st.Users().Create(f.ctx, u))
	return u
}

func (f *fixture) folder(t *testing.T, userID, name, parentID string) *models.Node {
	t.Helper()
	n, err := f.nodes.CreateFolder(f.ctx, userID, name, parentID)
	require.NoError(t, err)
	return n
}

func (f *fixture) file(t *testing.T, userID, name, parentID, content string) *models.Node {
	t.Helper()
	n, err := f.nodes.CreateFile(f.ctx, userID, FileUpload{
		Name:     name,
		ParentID: parentID,
		Size:     int64(len(content)),
		Content:  strings.NewReader(content),
	})
	require.NoError(t, err)
	return n
}

func (f *fixture) hasAccess(t *testing.T, userID, nodeID string, requireEdit bool) bool {
	t.Helper()
	ok, err := f.perms.HasAccess(f.ctx, userID, nodeID, requireEdit)
	require.NoError(t, err)
	return ok
}
