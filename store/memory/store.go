// Package memory provides a fully in-memory DocumentStore.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/types"
)

// Compile-time assertion that Store implements store.DocumentStore.
var _ store.DocumentStore = (*Store)(nil)

// Store is an in-memory DocumentStore backed by concurrent maps.
type Store struct {
	items   *xsync.Map[string, *types.WorkItem]
	workers *xsync.Map[string, *types.Worker]

	// mu guards field access on stored items and the log slice; the xsync
	// maps only make key lookup and iteration concurrent-safe.
	mu  sync.Mutex
	log []types.AssignmentLogEntry
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		items:   xsync.NewMap[string, *types.WorkItem](),
		workers: xsync.NewMap[string, *types.Worker](),
	}
}

// PutItem inserts or replaces a work item. Test seeding helper.
func (s *Store) PutItem(item *types.WorkItem) {
	cp := *item
	s.items.Store(item.ID, &cp)
}

// PutWorker inserts or replaces a roster record. Test seeding helper.
func (s *Store) PutWorker(w *types.Worker) {
	cp := *w
	s.workers.Store(w.ID, &cp)
}

// Log returns a copy of the assignment log entries written so far.
func (s *Store) Log() []types.AssignmentLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.AssignmentLogEntry, len(s.log))
	copy(out, s.log)

	return out
}

// GetItem returns the work item by ID.
func (s *Store) GetItem(_ context.Context, id string) (*types.WorkItem, error) {
	item, ok := s.items.Load(id)
	if !ok {
		return nil, types.ErrItemNotFound
	}

	s.mu.Lock()
	cp := *item
	s.mu.Unlock()

	return &cp, nil
}

// MarkItemPending sets status=PENDING unless the item is already assigned.
func (s *Store) MarkItemPending(_ context.Context, id string) error {
	item, ok := s.items.Load(id)
	if !ok {
		return types.ErrItemNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Assigned() {
		return nil
	}
	item.Status = types.StatusPending

	return nil
}

// CompleteAssignment writes the terminal assignment fields. An order that
// already carries an assignee is never overwritten.
func (s *Store) CompleteAssignment(_ context.Context, id, workerID, workerName string, source types.AssignmentSource) error {
	item, ok := s.items.Load(id)
	if !ok {
		return types.ErrItemNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.AssignedWorkerID != "" {
		return types.ErrAlreadyAssigned
	}

	item.Status = types.StatusAssigned
	item.AssignedWorkerID = workerID
	item.AssignedWorkerName = workerName
	item.AssignedAt = time.Now().UTC()
	item.AssignmentSource = source

	return nil
}

// RecordAssignmentError stores a failure diagnostic on the item.
func (s *Store) RecordAssignmentError(_ context.Context, id, diagnostic string) error {
	item, ok := s.items.Load(id)
	if !ok {
		return types.ErrItemNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item.AssignmentError = diagnostic
	item.AssignmentErrorAt = time.Now().UTC()

	return nil
}

// FindItemsByStatus returns up to limit item IDs matching any status spelling.
func (s *Store) FindItemsByStatus(_ context.Context, statuses []types.ItemStatus, limit int) ([]string, error) {
	match := make(map[types.ItemStatus]struct{}, len(statuses))
	for _, st := range statuses {
		match[st] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	s.items.Range(func(id string, item *types.WorkItem) bool {
		if _, ok := match[item.Status]; ok {
			ids = append(ids, id)
		}

		return limit <= 0 || len(ids) < limit
	})

	return ids, nil
}

// FindItemsWithoutAssignee returns up to limit item IDs with no assignee.
func (s *Store) FindItemsWithoutAssignee(_ context.Context, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	s.items.Range(func(id string, item *types.WorkItem) bool {
		if !item.Assigned() {
			ids = append(ids, id)
		}

		return limit <= 0 || len(ids) < limit
	})

	return ids, nil
}

// GetWorker returns the roster record by ID.
func (s *Store) GetWorker(_ context.Context, id string) (*types.Worker, error) {
	w, ok := s.workers.Load(id)
	if !ok {
		return nil, types.ErrWorkerNotFound
	}

	cp := *w

	return &cp, nil
}

// AppendAssignmentLog appends an audit entry.
func (s *Store) AppendAssignmentLog(_ context.Context, entry types.AssignmentLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log = append(s.log, entry)

	return nil
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close(_ context.Context) error { return nil }
