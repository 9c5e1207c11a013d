// Package mirror maintains the realtime KV view of work items.
//
// The mirror is the second, independently-consistent store of the
// dual-store model: order creation writes an entry here, seller dashboards
// watch it, and the engine both checks it in the no-clobber guard and
// scans it during reconciliation. Entries are full WorkItem JSON under
// "item.<orderID>".
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/internal/natsutil"
	"github.com/storekit/rotor/types"
)

// DefaultPrefix is the key prefix for item entries.
const DefaultPrefix = "item"

// Mirror reads and writes work item entries in a JetStream KV bucket.
type Mirror struct {
	kv        jetstream.KeyValue
	prefix    string
	keyPrefix string // cached "prefix."

	logger types.Logger
}

// New creates a mirror over the given KV bucket.
func New(kv jetstream.KeyValue, prefix string, logger types.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Mirror{
		kv:        kv,
		prefix:    prefix,
		keyPrefix: prefix + ".",
		logger:    logger,
	}
}

// Key returns the KV key for an item ID.
func (m *Mirror) Key(itemID string) string {
	return m.keyPrefix + itemID
}

// ItemID extracts the item ID from a mirror key, or "" if the key does
// not belong to the mirror.
func (m *Mirror) ItemID(key string) string {
	if !strings.HasPrefix(key, m.keyPrefix) {
		return ""
	}

	return key[len(m.keyPrefix):]
}

// Get returns the mirrored item, or types.ErrItemNotFound.
func (m *Mirror) Get(ctx context.Context, itemID string) (*types.WorkItem, error) {
	entry, err := m.kv.Get(ctx, m.Key(itemID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, types.ErrItemNotFound
		}

		return nil, fmt.Errorf("failed to read item mirror: %w", err)
	}

	var item types.WorkItem
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		return nil, fmt.Errorf("malformed item mirror entry %s: %w", entry.Key(), err)
	}

	return &item, nil
}

// Put writes the full mirrored item, replacing any existing entry.
// Used by the order-creation flow and by tests to seed items.
func (m *Mirror) Put(ctx context.Context, item *types.WorkItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if _, err := m.kv.Put(ctx, m.Key(item.ID), data); err != nil {
		return fmt.Errorf("failed to write item mirror: %w", err)
	}

	return nil
}

// MarkPending flips the mirrored item to PENDING, touching only the
// status. The revision-checked update means a concurrent assignment wins
// and the pending write is dropped rather than clobbering it.
func (m *Mirror) MarkPending(ctx context.Context, itemID string) error {
	entry, err := m.kv.Get(ctx, m.Key(itemID))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.ErrItemNotFound
		}

		return fmt.Errorf("failed to read item mirror: %w", err)
	}

	var item types.WorkItem
	if err := json.Unmarshal(entry.Value(), &item); err != nil {
		return fmt.Errorf("malformed item mirror entry %s: %w", entry.Key(), err)
	}

	// Already assigned or already pending: nothing to write. The latter
	// also keeps the pending write from re-triggering the item watcher.
	if item.Assigned() || item.Status == types.StatusPending {
		return nil
	}

	item.Status = types.StatusPending

	data, err := json.Marshal(&item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	if _, err := m.kv.Update(ctx, entry.Key(), data, entry.Revision()); err != nil {
		if natsutil.IsCASConflict(err) {
			m.logger.Debug("pending write lost to concurrent update", "item_id", itemID)
			return nil
		}

		return fmt.Errorf("failed to update item mirror: %w", err)
	}

	return nil
}

// CompleteAssignment writes the assignment fields to the mirrored item.
// A missing entry is created so a lagging mirror still converges.
func (m *Mirror) CompleteAssignment(ctx context.Context, itemID, workerID, workerName string, source types.AssignmentSource) error {
	item, err := m.Get(ctx, itemID)
	if err != nil {
		if !errors.Is(err, types.ErrItemNotFound) {
			return err
		}
		item = &types.WorkItem{ID: itemID}
	}

	item.Status = types.StatusAssigned
	item.AssignedWorkerID = workerID
	item.AssignedWorkerName = workerName
	item.AssignedAt = time.Now().UTC()
	item.AssignmentSource = source

	return m.Put(ctx, item)
}

// PendingItemIDs scans up to maxItems mirror entries and returns the IDs
// of items lacking an assignee or carrying a pending-looking status.
func (m *Mirror) PendingItemIDs(ctx context.Context, maxItems int) ([]string, error) {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list item mirror keys: %w", err)
	}

	var ids []string
	scanned := 0
	for _, key := range keys {
		itemID := m.ItemID(key)
		if itemID == "" {
			continue
		}
		if maxItems > 0 && scanned >= maxItems {
			break
		}
		scanned++

		entry, err := m.kv.Get(ctx, key)
		if err != nil {
			m.logger.Debug("failed to read item mirror entry", "key", key, "error", err)
			continue
		}

		var item types.WorkItem
		if err := json.Unmarshal(entry.Value(), &item); err != nil {
			m.logger.Debug("skipping malformed item mirror entry", "key", key, "error", err)
			continue
		}

		if !item.Assigned() || types.NeedsAssignment(item.Status) {
			ids = append(ids, itemID)
		}
	}

	return ids, nil
}

// Watch starts a KV watcher over all item entries.
func (m *Mirror) Watch(ctx context.Context, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	watcher, err := m.kv.Watch(ctx, m.keyPrefix+"*", opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to watch item mirror: %w", err)
	}

	return watcher, nil
}
