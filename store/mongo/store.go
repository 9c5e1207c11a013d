// Package mongo implements store.DocumentStore on MongoDB.
//
// The order and worker collections are shared with the storefront; this
// store touches only the assignment fields on orders and reads workers.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/types"
)

// Collection name constants.
const (
	colOrders        = "orders"
	colWorkers       = "workers"
	colAssignmentLog = "assignment_log"
)

// Compile-time assertion that Store implements store.DocumentStore.
var _ store.DocumentStore = (*Store)(nil)

// Store is a MongoDB-backed DocumentStore. The caller owns the client
// lifecycle; Close disconnects it.
type Store struct {
	client *mongod.Client
	db     *mongod.Database
}

// New creates a MongoDB document store on the given database.
func New(client *mongod.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Connect dials MongoDB and returns a connected store.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: connect: %w", err)
	}

	s := New(client, database)
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return s, nil
}

// GetItem returns the order by ID.
func (s *Store) GetItem(ctx context.Context, id string) (*types.WorkItem, error) {
	var item types.WorkItem

	err := s.db.Collection(colOrders).FindOne(ctx, bson.M{"_id": id}).Decode(&item)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, types.ErrItemNotFound
		}

		return nil, fmt.Errorf("rotor/mongo: get item: %w", err)
	}

	return &item, nil
}

// MarkItemPending sets status=PENDING on an unassigned order. The filter
// excludes assigned items so a concurrent assignment is never clobbered.
func (s *Store) MarkItemPending(ctx context.Context, id string) error {
	filter := bson.M{
		"_id":                id,
		"assigned_worker_id": bson.M{"$in": bson.A{nil, ""}},
	}

	_, err := s.db.Collection(colOrders).UpdateOne(ctx, filter,
		bson.M{"$set": bson.M{"status": types.StatusPending}},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: mark pending: %w", err)
	}

	return nil
}

// CompleteAssignment writes the terminal assignment fields. assignedAt is
// generated by the server via $currentDate. The filter excludes orders
// that already carry an assignee, so two racing writers cannot both win.
func (s *Store) CompleteAssignment(ctx context.Context, id, workerID, workerName string, source types.AssignmentSource) error {
	set := bson.M{
		"status":             types.StatusAssigned,
		"assigned_worker_id": workerID,
		"assignment_source":  source,
	}
	if workerName != "" {
		set["assigned_worker_name"] = workerName
	}

	filter := bson.M{
		"_id":                id,
		"assigned_worker_id": bson.M{"$in": bson.A{nil, ""}},
	}

	res, err := s.db.Collection(colOrders).UpdateOne(ctx, filter,
		bson.M{
			"$set":         set,
			"$currentDate": bson.M{"assigned_at": true},
		},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: complete assignment: %w", err)
	}
	if res.MatchedCount == 0 {
		// Either the order is gone or another writer assigned it first.
		if _, err := s.GetItem(ctx, id); err != nil {
			if errors.Is(err, types.ErrItemNotFound) {
				return types.ErrItemNotFound
			}

			return fmt.Errorf("rotor/mongo: complete assignment recheck: %w", err)
		}

		return types.ErrAlreadyAssigned
	}

	return nil
}

// RecordAssignmentError stores a failure diagnostic on the order.
func (s *Store) RecordAssignmentError(ctx context.Context, id, diagnostic string) error {
	_, err := s.db.Collection(colOrders).UpdateOne(ctx, bson.M{"_id": id},
		bson.M{
			"$set":         bson.M{"assignment_error": diagnostic},
			"$currentDate": bson.M{"assignment_error_at": true},
		},
	)
	if err != nil {
		return fmt.Errorf("rotor/mongo: record assignment error: %w", err)
	}

	return nil
}

// FindItemsByStatus returns up to limit order IDs matching any status spelling.
func (s *Store) FindItemsByStatus(ctx context.Context, statuses []types.ItemStatus, limit int) ([]string, error) {
	filter := bson.M{"status": bson.M{"$in": statuses}}

	return s.findIDs(ctx, filter, limit)
}

// FindItemsWithoutAssignee returns up to limit order IDs with a null or
// absent assignee.
func (s *Store) FindItemsWithoutAssignee(ctx context.Context, limit int) ([]string, error) {
	filter := bson.M{"assigned_worker_id": bson.M{"$in": bson.A{nil, ""}}}

	return s.findIDs(ctx, filter, limit)
}

func (s *Store) findIDs(ctx context.Context, filter bson.M, limit int) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.db.Collection(colOrders).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("rotor/mongo: find items: %w", err)
	}
	defer cur.Close(ctx) //nolint:errcheck

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("rotor/mongo: decode item id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("rotor/mongo: iterate items: %w", err)
	}

	return ids, nil
}

// GetWorker returns the roster record by ID.
func (s *Store) GetWorker(ctx context.Context, id string) (*types.Worker, error) {
	var w types.Worker

	err := s.db.Collection(colWorkers).FindOne(ctx, bson.M{"_id": id}).Decode(&w)
	if err != nil {
		if errors.Is(err, mongod.ErrNoDocuments) {
			return nil, types.ErrWorkerNotFound
		}

		return nil, fmt.Errorf("rotor/mongo: get worker: %w", err)
	}

	return &w, nil
}

// AppendAssignmentLog appends an audit entry.
func (s *Store) AppendAssignmentLog(ctx context.Context, entry types.AssignmentLogEntry) error {
	_, err := s.db.Collection(colAssignmentLog).InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("rotor/mongo: append assignment log: %w", err)
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("rotor/mongo: ping: %w", err)
	}

	return nil
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("rotor/mongo: disconnect: %w", err)
	}

	return nil
}
