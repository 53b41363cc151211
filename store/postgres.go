package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"minidrive/models"
	"minidrive/store/migrations"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore runs on database/sql with the pgx driver.
type PostgresStore struct {
	db   *sql.DB
	conn DBTX
	inTx bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, conn: db}
}

// OpenPostgres opens and pings a pgx-backed pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// gooseUp is a seam for tests.
var gooseUp = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := gooseUp(ctx, s.db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Nodes() NodeRepository             { return postgresNodes{s.conn} }
func (s *PostgresStore) Permissions() PermissionRepository { return postgresPermissions{s.conn} }
func (s *PostgresStore) Jobs() JobRepository               { return postgresJobs{s.conn} }
func (s *PostgresStore) Users() UserRepository             { return postgresUsers{s.conn} }

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) (err error) {
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, &PostgresStore{db: s.db, conn: tx, inTx: true})
}

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func noRows(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s %s: %w", what, id, err)
}

func expectOne(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const nodeColumns = `id, name, kind, owner_id, parent_id, size_bytes, mime_type, storage_ref, is_deleted, deleted_at, created_at, updated_at`

func scanNode(row rowScanner) (*models.Node, error) {
	var (
		n         models.Node
		kind      string
		parent    sql.NullString
		size      sql.NullInt64
		mime      sql.NullString
		ref       sql.NullString
		deletedAt sql.NullTime
	)
	err := row.Scan(&n.ID, &n.Name, &kind, &n.OwnerID, &parent, &size, &mime, &ref,
		&n.IsDeleted, &deletedAt, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Kind = models.NodeKind(kind)
	if parent.Valid {
		n.ParentID = &parent.String
	}
	n.SizeBytes = size.Int64
	n.MimeType = mime.String
	n.StorageRef = ref.String
	if deletedAt.Valid {
		t := deletedAt.Time
		n.DeletedAt = &t
	}
	return &n, nil
}

func queryNodes(ctx context.Context, db DBTX, query string, args ...any) ([]*models.Node, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nodes, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// buildNodeSearch returns ok=false when the filter cannot match anything.
func buildNodeSearch(f NodeFilter) (string, []any, bool) {
	where := []string{"is_deleted = FALSE"}
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.OwnerID != "" {
		add("owner_id = $%d", f.OwnerID)
	}
	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}
	if f.ParentID != nil {
		if *f.ParentID == "" {
			where = append(where, "parent_id IS NULL")
		} else {
			add("parent_id = $%d", *f.ParentID)
		}
	}
	if f.NameContains != "" {
		add("name ILIKE $%d", "%"+escapeLike(f.NameContains)+"%")
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.MimeType != "" {
		add("lower(mime_type) = lower($%d)", f.MimeType)
	}
	if f.HasSizeBound() {
		if f.Kind == models.KindFolder {
			return "", nil, false
		}
		where = append(where, "kind = 'FILE'")
		if f.MinSize != nil {
			add("size_bytes >= $%d", *f.MinSize)
		}
		if f.MaxSize != nil {
			add("size_bytes <= $%d", *f.MaxSize)
		}
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE ` + strings.Join(where, " AND ") + ` ORDER BY name, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args, true
}

type postgresNodes struct{ db DBTX }

func (r postgresNodes) Create(ctx context.Context, n *models.Node) error {
	query := `INSERT INTO nodes (` + nodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	var size any
	if n.IsFile() {
		size = n.SizeBytes
	}
	var deletedAt any
	if n.DeletedAt != nil {
		deletedAt = *n.DeletedAt
	}
	_, err := r.db.ExecContext(ctx, query, n.ID, n.Name, string(n.Kind), n.OwnerID, nullString(n.Parent()),
		size, nullString(n.MimeType), nullString(n.StorageRef), n.IsDeleted, deletedAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

func (r postgresNodes) Get(ctx context.Context, id string) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`
	n, err := scanNode(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, noRows(err, "node", id)
	}
	return n, nil
}

func (r postgresNodes) ListChildren(ctx context.Context, parentID string, includeDeleted bool) ([]*models.Node, error) {
	var (
		query string
		args  []any
	)
	if parentID == "" {
		query = `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id IS NULL`
	} else {
		query = `SELECT ` + nodeColumns + ` FROM nodes WHERE parent_id = $1`
		args = append(args, parentID)
	}
	if !includeDeleted {
		query += ` AND is_deleted = FALSE`
	}
	return queryNodes(ctx, r.db, query+` ORDER BY name, id`, args...)
}

func (r postgresNodes) Search(ctx context.Context, f NodeFilter) ([]*models.Node, error) {
	query, args, ok := buildNodeSearch(f)
	if !ok {
		return nil, nil
	}
	return queryNodes(ctx, r.db, query, args...)
}

func (r postgresNodes) Update(ctx context.Context, n *models.Node) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET name = $1, parent_id = $2, updated_at = $3 WHERE id = $4`,
		n.Name, nullString(n.Parent()), n.UpdatedAt, n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", n.ID, err)
	}
	return expectOne(res, "node", n.ID)
}

func (r postgresNodes) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET is_deleted = TRUE, deleted_at = $1, updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark node %s deleted: %w", id, err)
	}
	return expectOne(res, "node", id)
}

func (r postgresNodes) Restore(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE nodes SET is_deleted = FALSE, deleted_at = NULL, updated_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("failed to restore node %s: %w", id, err)
	}
	return expectOne(res, "node", id)
}

func (r postgresNodes) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Node, error) {
	return queryNodes(ctx, r.db,
		`SELECT `+nodeColumns+` FROM nodes WHERE is_deleted = TRUE AND deleted_at < $1 ORDER BY name, id`, cutoff)
}

func (r postgresNodes) ListDeletedByOwner(ctx context.Context, ownerID string) ([]*models.Node, error) {
	return queryNodes(ctx, r.db,
		`SELECT `+nodeColumns+` FROM nodes WHERE owner_id = $1 AND is_deleted = TRUE ORDER BY name, id`, ownerID)
}

// Purge relies on ON DELETE CASCADE to drop the node's grants.
func (r postgresNodes) Purge(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	return expectOne(res, "node", id)
}

func (r postgresNodes) Usage(ctx context.Context, ownerID string) (Usage, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT kind, COUNT(*), COALESCE(SUM(size_bytes), 0) FROM nodes
		WHERE owner_id = $1 AND is_deleted = FALSE GROUP BY kind`, ownerID)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer rows.Close()

	var u Usage
	for rows.Next() {
		var (
			kind         string
			count, bytes int64
		)
		if err := rows.Scan(&kind, &count, &bytes); err != nil {
			return Usage{}, err
		}
		switch models.NodeKind(kind) {
		case models.KindFile:
			u.Files = count
			u.TotalBytes = bytes
		case models.KindFolder:
			u.Folders = count
		}
	}
	return u, rows.Err()
}

type postgresPermissions struct{ db DBTX }

const permissionColumns = `node_id, user_id, level, created_at, updated_at`

func (r postgresPermissions) Upsert(ctx context.Context, p *models.Permission) error {
	query :=
		`INSERT INTO permissions (node_id, user_id, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (node_id, user_id)
		DO UPDATE SET level = EXCLUDED.level, updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query, p.NodeID, p.UserID, string(p.Level), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

func scanPermission(row rowScanner) (*models.Permission, error) {
	var (
		p     models.Permission
		level string
	)
	if err := row.Scan(&p.NodeID, &p.UserID, &level, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Level = models.AccessLevel(level)
	return &p, nil
}

func (r postgresPermissions) Get(ctx context.Context, nodeID, userID string) (*models.Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE node_id = $1 AND user_id = $2`
	p, err := scanPermission(r.db.QueryRowContext(ctx, query, nodeID, userID))
	if err != nil {
		return nil, noRows(err, "permission", nodeID+"/"+userID)
	}
	return p, nil
}

func (r postgresPermissions) list(ctx context.Context, query string, arg string) ([]*models.Permission, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select permissions: %w", err)
	}
	defer rows.Close()

	var perms []*models.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r postgresPermissions) ListByNode(ctx context.Context, nodeID string) ([]*models.Permission, error) {
	return r.list(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE node_id = $1 ORDER BY user_id`, nodeID)
}

func (r postgresPermissions) ListByUser(ctx context.Context, userID string) ([]*models.Permission, error) {
	return r.list(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE user_id = $1 ORDER BY node_id`, userID)
}

func (r postgresPermissions) Delete(ctx context.Context, nodeID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM permissions WHERE node_id = $1 AND user_id = $2`, nodeID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return expectOne(res, "permission", nodeID+"/"+userID)
}

type postgresJobs struct{ db DBTX }

const jobColumns = `id, node_id, requester_id, status, result_ref, error_message, created_at, updated_at`

func scanJob(row rowScanner) (*models.ArchiveJob, error) {
	var (
		j         models.ArchiveJob
		status    string
		resultRef sql.NullString
		errMsg    sql.NullString
	)
	if err := row.Scan(&j.ID, &j.NodeID, &j.RequesterID, &status, &resultRef, &errMsg, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.ResultRef = resultRef.String
	j.ErrorMessage = errMsg.String
	return &j, nil
}

func (r postgresJobs) Create(ctx context.Context, j *models.ArchiveJob) error {
	query := `INSERT INTO archive_jobs (` + jobColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query, j.ID, j.NodeID, j.RequesterID, string(j.Status),
		nullString(j.ResultRef), nullString(j.ErrorMessage), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert archive job: %w", err)
	}
	return nil
}

func (r postgresJobs) Get(ctx context.Context, id string) (*models.ArchiveJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM archive_jobs WHERE id = $1`, id))
	if err != nil {
		return nil, noRows(err, "archive job", id)
	}
	return j, nil
}

func (r postgresJobs) Transition(ctx context.Context, id string, from, to models.JobStatus, resultRef, errorMessage string, at time.Time) error {
	query :=
		`UPDATE archive_jobs
		SET status = $1,
			result_ref = COALESCE($2, result_ref),
			error_message = COALESCE($3, error_message),
			updated_at = $4
		WHERE id = $5 AND status = $6`

	res, err := r.db.ExecContext(ctx, query, string(to), nullString(resultRef), nullString(errorMessage), at, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update archive job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return nil
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("archive job %s is %s, not %s: %w", id, cur.Status, from, models.ErrInvalidState)
}

func (r postgresJobs) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.ArchiveJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM archive_jobs WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to select archive jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ArchiveJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archive job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type postgresUsers struct{ db DBTX }

func (r postgresUsers) Create(ctx context.Context, u *models.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, created_at) VALUES ($1, $2, $3, $4)`,
		u.ID, strings.ToLower(u.Email), u.Name, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: email %s already registered", models.ErrValidation, u.Email)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r postgresUsers) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, noRows(err, "user", id)
	}
	return &u, nil
}

func (r postgresUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.db.QueryRowContext(ctx, `SELECT id, email, name, created_at FROM users WHERE email = $1`, strings.ToLower(email)).
		Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err != nil {
		return nil, noRows(err, "user", email)
	}
	return &u, nil
}
