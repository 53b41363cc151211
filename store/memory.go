package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"minidrive/models"
)

type permKey struct {
	nodeID string
	userID string
}

// MemoryStore keeps everything in process memory. Each call is atomic and
// WithTx bodies run one at a time under a store-wide lock. There is no
// rollback, so it is meant for tests and single-process development only.
type MemoryStore struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	nodes  map[string]*models.Node
	perms  map[permKey]*models.Permission
	jobs   map[string]*models.ArchiveJob
	users  map[string]*models.User
	emails map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[string]*models.Node),
		perms:  make(map[permKey]*models.Permission),
		jobs:   make(map[string]*models.ArchiveJob),
		users:  make(map[string]*models.User),
		emails: make(map[string]string),
	}
}

func (s *MemoryStore) Nodes() NodeRepository             { return memoryNodes{s} }
func (s *MemoryStore) Permissions() PermissionRepository { return memoryPermissions{s} }
func (s *MemoryStore) Jobs() JobRepository               { return memoryJobs{s} }
func (s *MemoryStore) Users() UserRepository             { return memoryUsers{s} }

func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx, memoryTx{s})
}

// memoryTx is the Store handed to a WithTx body; nesting reuses the held lock.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func copyNode(n *models.Node) *models.Node {
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.DeletedAt != nil {
		d := *n.DeletedAt
		c.DeletedAt = &d
	}
	return &c
}

func sortNodes(nodes []*models.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// MatchesFilter applies f to a single node the same way the database
// backends do.
func MatchesFilter(n *models.Node, f NodeFilter) bool {
	if n.IsDeleted {
		return false
	}
	if f.OwnerID != "" && n.OwnerID != f.OwnerID {
		return false
	}
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == n.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ParentID != nil && n.Parent() != *f.ParentID {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(n.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	if f.Kind != "" && n.Kind != f.Kind {
		return false
	}
	if f.MimeType != "" && !strings.EqualFold(n.MimeType, f.MimeType) {
		return false
	}
	if f.HasSizeBound() {
		if !n.IsFile() {
			return false
		}
		if f.MinSize != nil && n.SizeBytes < *f.MinSize {
			return false
		}
		if f.MaxSize != nil && n.SizeBytes > *f.MaxSize {
			return false
		}
	}
	return true
}

func paginate(nodes []*models.Node, limit, offset int) []*models.Node {
	if offset > 0 {
		if offset >= len(nodes) {
			return nil
		}
		nodes = nodes[offset:]
	}
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	return nodes
}

type memoryNodes struct{ s *MemoryStore }

func (r memoryNodes) Create(_ context.Context, n *models.Node) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.nodes[n.ID]; ok {
		return fmt.Errorf("node %s already exists", n.ID)
	}
	r.s.nodes[n.ID] = copyNode(n)
	return nil
}

func (r memoryNodes) Get(_ context.Context, id string) (*models.Node, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n, ok := r.s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return copyNode(n), nil
}

func (r memoryNodes) ListChildren(_ context.Context, parentID string, includeDeleted bool) ([]*models.Node, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Node
	for _, n := range r.s.nodes {
		if n.Parent() != parentID || (n.IsDeleted && !includeDeleted) {
			continue
		}
		out = append(out, copyNode(n))
	}
	sortNodes(out)
	return out, nil
}

func (r memoryNodes) Search(_ context.Context, f NodeFilter) ([]*models.Node, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Node
	for _, n := range r.s.nodes {
		if MatchesFilter(n, f) {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return paginate(out, f.Limit, f.Offset), nil
}

func (r memoryNodes) Update(_ context.Context, n *models.Node) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.nodes[n.ID]
	if !ok {
		return fmt.Errorf("node %s: %w", n.ID, models.ErrNotFound)
	}
	upd := copyNode(cur)
	upd.Name = n.Name
	upd.ParentID = models.StringPtr(n.Parent())
	upd.UpdatedAt = n.UpdatedAt
	r.s.nodes[n.ID] = upd
	return nil
}

func (r memoryNodes) MarkDeleted(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	n.IsDeleted = true
	n.DeletedAt = &at
	n.UpdatedAt = at
	return nil
}

func (r memoryNodes) Restore(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n, ok := r.s.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	n.IsDeleted = false
	n.DeletedAt = nil
	n.UpdatedAt = at
	return nil
}

func (r memoryNodes) ListDeletedBefore(_ context.Context, cutoff time.Time) ([]*models.Node, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Node
	for _, n := range r.s.nodes {
		if n.IsDeleted && n.DeletedAt != nil && n.DeletedAt.Before(cutoff) {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (r memoryNodes) ListDeletedByOwner(_ context.Context, ownerID string) ([]*models.Node, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Node
	for _, n := range r.s.nodes {
		if n.IsDeleted && n.OwnerID == ownerID {
			out = append(out, copyNode(n))
		}
	}
	sortNodes(out)
	return out, nil
}

func (r memoryNodes) Purge(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.nodes[id]; !ok {
		return fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	delete(r.s.nodes, id)
	for k := range r.s.perms {
		if k.nodeID == id {
			delete(r.s.perms, k)
		}
	}
	return nil
}

func (r memoryNodes) Usage(_ context.Context, ownerID string) (Usage, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var u Usage
	for _, n := range r.s.nodes {
		if n.OwnerID != ownerID || n.IsDeleted {
			continue
		}
		if n.IsFolder() {
			u.Folders++
			continue
		}
		u.Files++
		u.TotalBytes += n.SizeBytes
	}
	return u, nil
}

type memoryPermissions struct{ s *MemoryStore }

func (r memoryPermissions) Upsert(_ context.Context, p *models.Permission) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := permKey{p.NodeID, p.UserID}
	if cur, ok := r.s.perms[k]; ok {
		cur.Level = p.Level
		cur.UpdatedAt = p.UpdatedAt
		return nil
	}
	c := *p
	r.s.perms[k] = &c
	return nil
}

func (r memoryPermissions) Get(_ context.Context, nodeID, userID string) (*models.Permission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.perms[permKey{nodeID, userID}]
	if !ok {
		return nil, fmt.Errorf("permission %s/%s: %w", nodeID, userID, models.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (r memoryPermissions) list(match func(k permKey) bool) []*models.Permission {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.Permission
	for k, p := range r.s.perms {
		if match(k) {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return out[i].NodeID < out[j].NodeID
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (r memoryPermissions) ListByNode(_ context.Context, nodeID string) ([]*models.Permission, error) {
	return r.list(func(k permKey) bool { return k.nodeID == nodeID }), nil
}

func (r memoryPermissions) ListByUser(_ context.Context, userID string) ([]*models.Permission, error) {
	return r.list(func(k permKey) bool { return k.userID == userID }), nil
}

func (r memoryPermissions) Delete(_ context.Context, nodeID, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := permKey{nodeID, userID}
	if _, ok := r.s.perms[k]; !ok {
		return fmt.Errorf("permission %s/%s: %w", nodeID, userID, models.ErrNotFound)
	}
	delete(r.s.perms, k)
	return nil
}

type memoryJobs struct{ s *MemoryStore }

func (r memoryJobs) Create(_ context.Context, j *models.ArchiveJob) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[j.ID]; ok {
		return fmt.Errorf("archive job %s already exists", j.ID)
	}
	c := *j
	r.s.jobs[j.ID] = &c
	return nil
}

func (r memoryJobs) Get(_ context.Context, id string) (*models.ArchiveJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("archive job %s: %w", id, models.ErrNotFound)
	}
	c := *j
	return &c, nil
}

func (r memoryJobs) Transition(_ context.Context, id string, from, to models.JobStatus, resultRef, errorMessage string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return fmt.Errorf("archive job %s: %w", id, models.ErrNotFound)
	}
	if j.Status != from {
		return fmt.Errorf("archive job %s is %s, not %s: %w", id, j.Status, from, models.ErrInvalidState)
	}
	j.Status = to
	if resultRef != "" {
		j.ResultRef = resultRef
	}
	if errorMessage != "" {
		j.ErrorMessage = errorMessage
	}
	j.UpdatedAt = at
	return nil
}

func (r memoryJobs) ListByStatus(_ context.Context, status models.JobStatus) ([]*models.ArchiveJob, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*models.ArchiveJob
	for _, j := range r.s.jobs {
		if j.Status == status {
			c := *j
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

type memoryUsers struct{ s *MemoryStore }

func (r memoryUsers) Create(_ context.Context, u *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := r.s.emails[email]; ok {
		return fmt.Errorf("%w: email %s already registered", models.ErrValidation, u.Email)
	}
	c := *u
	r.s.users[u.ID] = &c
	r.s.emails[email] = u.ID
	return nil
}

func (r memoryUsers) Get(_ context.Context, id string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (r memoryUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.emails[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, models.ErrNotFound)
	}
	c := *r.s.users[id]
	return &c, nil
}
