package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"minidrive/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	nodesCollection       = "nodes"
	permissionsCollection = "permissions"
	jobsCollection        = "archive_jobs"
	usersCollection       = "users"
)

// MongoStore is backed by one MongoDB database. Transactions need a replica
// set or sharded cluster.
type MongoStore struct {
	client      *mongo.Client
	nodes       *mongo.Collection
	permissions *mongo.Collection
	jobs        *mongo.Collection
	users       *mongo.Collection
}

func NewMongoStore(client *mongo.Client, databaseName string) *MongoStore {
	db := client.Database(databaseName)
	return &MongoStore{
		client:      client,
		nodes:       db.Collection(nodesCollection),
		permissions: db.Collection(permissionsCollection),
		jobs:        db.Collection(jobsCollection),
		users:       db.Collection(usersCollection),
	}
}

// ConnectMongo dials, pings and prepares indexes.
func ConnectMongo(ctx context.Context, uri, databaseName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	s := NewMongoStore(client, databaseName)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.nodes: {
			{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "is_deleted", Value: 1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}, {Key: "name", Value: 1}}},
			{Keys: bson.D{{Key: "is_deleted", Value: 1}, {Key: "deleted_at", Value: 1}}},
		},
		s.permissions: {
			{Keys: bson.D{{Key: "node_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		s.jobs: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		s.users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}
	for coll, idx := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) Nodes() NodeRepository             { return mongoNodes{s} }
func (s *MongoStore) Permissions() PermissionRepository { return mongoPermissions{s} }
func (s *MongoStore) Jobs() JobRepository               { return mongoJobs{s} }
func (s *MongoStore) Users() UserRepository             { return mongoUsers{s} }

func (s *MongoStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, s)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, s)
	})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", what, id, models.ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s %s: %w", what, id, err)
}

func parentValue(parentID string) interface{} {
	if parentID == "" {
		return nil
	}
	return parentID
}

func caseInsensitive(s string, exact bool) primitive.Regex {
	pattern := regexp.QuoteMeta(s)
	if exact {
		pattern = "^" + pattern + "$"
	}
	return primitive.Regex{Pattern: pattern, Options: "i"}
}

// nodeFilterDoc returns ok=false when the filter cannot match anything.
func nodeFilterDoc(f NodeFilter) (bson.M, bool) {
	filter := bson.M{"is_deleted": false}
	if f.OwnerID != "" {
		filter["owner_id"] = f.OwnerID
	}
	if len(f.IDs) > 0 {
		filter["_id"] = bson.M{"$in": f.IDs}
	}
	if f.ParentID != nil {
		filter["parent_id"] = parentValue(*f.ParentID)
	}
	if f.NameContains != "" {
		filter["name"] = caseInsensitive(f.NameContains, false)
	}
	if f.Kind != "" {
		filter["kind"] = f.Kind
	}
	if f.MimeType != "" {
		filter["mime_type"] = caseInsensitive(f.MimeType, true)
	}
	if f.HasSizeBound() {
		if f.Kind == models.KindFolder {
			return nil, false
		}
		filter["kind"] = models.KindFile
		size := bson.M{}
		if f.MinSize != nil {
			size["$gte"] = *f.MinSize
		}
		if f.MaxSize != nil {
			size["$lte"] = *f.MaxSize
		}
		filter["size_bytes"] = size
	}
	return filter, true
}

var byName = bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}

type mongoNodes struct{ s *MongoStore }

func (r mongoNodes) find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]*models.Node, error) {
	cursor, err := r.s.nodes.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer cursor.Close(ctx)

	var nodes []*models.Node
	if err := cursor.All(ctx, &nodes); err != nil {
		return nil, fmt.Errorf("failed to decode nodes: %w", err)
	}
	return nodes, nil
}

func (r mongoNodes) Create(ctx context.Context, n *models.Node) error {
	if _, err := r.s.nodes.InsertOne(ctx, n); err != nil {
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

func (r mongoNodes) Get(ctx context.Context, id string) (*models.Node, error) {
	var n models.Node
	if err := r.s.nodes.FindOne(ctx, bson.M{"_id": id}).Decode(&n); err != nil {
		return nil, notFound(err, "node", id)
	}
	return &n, nil
}

func (r mongoNodes) ListChildren(ctx context.Context, parentID string, includeDeleted bool) ([]*models.Node, error) {
	filter := bson.M{"parent_id": parentValue(parentID)}
	if !includeDeleted {
		filter["is_deleted"] = false
	}
	return r.find(ctx, filter, options.Find().SetSort(byName))
}

func (r mongoNodes) Search(ctx context.Context, f NodeFilter) ([]*models.Node, error) {
	filter, ok := nodeFilterDoc(f)
	if !ok {
		return nil, nil
	}
	opts := options.Find().SetSort(byName)
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	return r.find(ctx, filter, opts)
}

func (r mongoNodes) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := r.s.nodes.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r mongoNodes) Update(ctx context.Context, n *models.Node) error {
	set := bson.M{"name": n.Name, "updated_at": n.UpdatedAt}
	update := bson.M{"$set": set}
	if n.ParentID == nil {
		update["$unset"] = bson.M{"parent_id": ""}
	} else {
		set["parent_id"] = *n.ParentID
	}
	return r.updateOne(ctx, n.ID, update)
}

func (r mongoNodes) MarkDeleted(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{
		"is_deleted": true,
		"deleted_at": at,
		"updated_at": at,
	}})
}

func (r mongoNodes) Restore(ctx context.Context, id string, at time.Time) error {
	return r.updateOne(ctx, id, bson.M{
		"$set":   bson.M{"is_deleted": false, "updated_at": at},
		"$unset": bson.M{"deleted_at": ""},
	})
}

func (r mongoNodes) ListDeletedBefore(ctx context.Context, cutoff time.Time) ([]*models.Node, error) {
	return r.find(ctx, bson.M{
		"is_deleted": true,
		"deleted_at": bson.M{"$lt": cutoff},
	}, options.Find().SetSort(byName))
}

func (r mongoNodes) ListDeletedByOwner(ctx context.Context, ownerID string) ([]*models.Node, error) {
	return r.find(ctx, bson.M{"owner_id": ownerID, "is_deleted": true}, options.Find().SetSort(byName))
}

func (r mongoNodes) Purge(ctx context.Context, id string) error {
	if _, err := r.s.permissions.DeleteMany(ctx, bson.M{"node_id": id}); err != nil {
		return fmt.Errorf("failed to delete grants of node %s: %w", id, err)
	}
	res, err := r.s.nodes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("node %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r mongoNodes) Usage(ctx context.Context, ownerID string) (Usage, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"owner_id": ownerID, "is_deleted": false}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$kind",
			"count": bson.M{"$sum": 1},
			"bytes": bson.M{"$sum": "$size_bytes"},
		}}},
	}
	cursor, err := r.s.nodes.Aggregate(ctx, pipeline)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Kind  models.NodeKind `bson:"_id"`
		Count int64           `bson:"count"`
		Bytes int64           `bson:"bytes"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return Usage{}, fmt.Errorf("failed to decode usage: %w", err)
	}

	var u Usage
	for _, row := range rows {
		switch row.Kind {
		case models.KindFile:
			u.Files = row.Count
			u.TotalBytes = row.Bytes
		case models.KindFolder:
			u.Folders = row.Count
		}
	}
	return u, nil
}

type mongoPermissions struct{ s *MongoStore }

func (r mongoPermissions) Upsert(ctx context.Context, p *models.Permission) error {
	_, err := r.s.permissions.UpdateOne(ctx,
		bson.M{"node_id": p.NodeID, "user_id": p.UserID},
		bson.M{
			"$set":         bson.M{"level": p.Level, "updated_at": p.UpdatedAt},
			"$setOnInsert": bson.M{"created_at": p.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert permission: %w", err)
	}
	return nil
}

func (r mongoPermissions) Get(ctx context.Context, nodeID, userID string) (*models.Permission, error) {
	var p models.Permission
	err := r.s.permissions.FindOne(ctx, bson.M{"node_id": nodeID, "user_id": userID}).Decode(&p)
	if err != nil {
		return nil, notFound(err, "permission", nodeID+"/"+userID)
	}
	return &p, nil
}

func (r mongoPermissions) list(ctx context.Context, filter bson.M) ([]*models.Permission, error) {
	cursor, err := r.s.permissions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "node_id", Value: 1}, {Key: "user_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer cursor.Close(ctx)

	var perms []*models.Permission
	if err := cursor.All(ctx, &perms); err != nil {
		return nil, fmt.Errorf("failed to decode permissions: %w", err)
	}
	return perms, nil
}

func (r mongoPermissions) ListByNode(ctx context.Context, nodeID string) ([]*models.Permission, error) {
	return r.list(ctx, bson.M{"node_id": nodeID})
}

func (r mongoPermissions) ListByUser(ctx context.Context, userID string) ([]*models.Permission, error) {
	return r.list(ctx, bson.M{"user_id": userID})
}

func (r mongoPermissions) Delete(ctx context.Context, nodeID, userID string) error {
	res, err := r.s.permissions.DeleteOne(ctx, bson.M{"node_id": nodeID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("permission %s/%s: %w", nodeID, userID, models.ErrNotFound)
	}
	return nil
}

type mongoJobs struct{ s *MongoStore }

func (r mongoJobs) Create(ctx context.Context, j *models.ArchiveJob) error {
	if _, err := r.s.jobs.InsertOne(ctx, j); err != nil {
		return fmt.Errorf("failed to insert archive job: %w", err)
	}
	return nil
}

func (r mongoJobs) Get(ctx context.Context, id string) (*models.ArchiveJob, error) {
	var j models.ArchiveJob
	if err := r.s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&j); err != nil {
		return nil, notFound(err, "archive job", id)
	}
	return &j, nil
}

func (r mongoJobs) Transition(ctx context.Context, id string, from, to models.JobStatus, resultRef, errorMessage string, at time.Time) error {
	set := bson.M{"status": to, "updated_at": at}
	if resultRef != "" {
		set["result_ref"] = resultRef
	}
	if errorMessage != "" {
		set["error_message"] = errorMessage
	}
	res, err := r.s.jobs.UpdateOne(ctx, bson.M{"_id": id, "status": from}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update archive job %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	cur, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("archive job %s is %s, not %s: %w", id, cur.Status, from, models.ErrInvalidState)
}

func (r mongoJobs) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.ArchiveJob, error) {
	cursor, err := r.s.jobs.Find(ctx, bson.M{"status": status},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query archive jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var jobs []*models.ArchiveJob
	if err := cursor.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode archive jobs: %w", err)
	}
	return jobs, nil
}

type mongoUsers struct{ s *MongoStore }

func (r mongoUsers) Create(ctx context.Context, u *models.User) error {
	doc := *u
	doc.Email = strings.ToLower(u.Email)
	if _, err := r.s.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: email %s already registered", models.ErrValidation, u.Email)
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r mongoUsers) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}

func (r mongoUsers) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := r.s.users.FindOne(ctx, bson.M{"email": strings.ToLower(email)}).Decode(&u); err != nil {
		return nil, notFound(err, "user", email)
	}
	return &u, nil
}
