// Package assign implements the transactional, idempotent assignment of
// one work item to one worker, including the shared rotation cursor.
package assign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/internal/natsutil"
	"github.com/storekit/rotor/types"
)

// DefaultCursorKey is the KV key of the singleton rotation cursor.
const DefaultCursorKey = "cursor"

// DefaultCursorRetries bounds optimistic update attempts before giving up.
const DefaultCursorRetries = 5

// CursorStore advances the shared rotation pointer with optimistic
// compare-and-retry updates.
//
// The cursor is the only piece of state multiple invocations mutate
// concurrently, so every write is revision-checked: a conflict means
// another invocation advanced it first, and the loop re-reads and
// retries with jittered backoff.
type CursorStore struct {
	kv         jetstream.KeyValue
	key        string
	maxRetries int

	logger  types.Logger
	metrics types.AssignerMetrics
}

// NewCursorStore creates a cursor store over the given KV bucket.
// maxRetries <= 0 uses DefaultCursorRetries.
func NewCursorStore(kv jetstream.KeyValue, maxRetries int, logger types.Logger, metrics types.AssignerMetrics) *CursorStore {
	if maxRetries <= 0 {
		maxRetries = DefaultCursorRetries
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &CursorStore{
		kv:         kv,
		key:        DefaultCursorKey,
		maxRetries: maxRetries,
		logger:     logger,
		metrics:    metrics,
	}
}

// Current returns the stored cursor value, or an empty cursor when none
// has been written yet.
func (c *CursorStore) Current(ctx context.Context) (types.Cursor, error) {
	var cursor types.Cursor

	entry, err := c.kv.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return cursor, nil
		}

		return cursor, fmt.Errorf("failed to read cursor: %w", err)
	}

	if err := json.Unmarshal(entry.Value(), &cursor); err != nil {
		return cursor, fmt.Errorf("malformed cursor entry: %w", err)
	}

	return cursor, nil
}

// Advance atomically rotates the cursor over the eligible list and
// returns the chosen worker.
//
// Rotation is defined relative to the list resolved at call time: a
// stored value absent from the list (worker went offline, roster change)
// restarts at the first element. Exhausted retries return
// types.ErrCursorConflict and the caller leaves the item for a later sweep.
func (c *CursorStore) Advance(ctx context.Context, eligible []string) (string, error) {
	if len(eligible) == 0 {
		return "", types.ErrNoEligibleWorkers
	}

	var backoff time.Duration

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff = jitterBackoff(backoff, 10*time.Millisecond, 2.0, 250*time.Millisecond, nil)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		entry, err := c.kv.Get(ctx, c.key)

		switch {
		case err == nil:
			var cursor types.Cursor
			if jsonErr := json.Unmarshal(entry.Value(), &cursor); jsonErr != nil {
				// A corrupt cursor restarts rotation rather than wedging
				// every assignment.
				c.logger.Warn("malformed cursor entry, restarting rotation", "error", jsonErr)
				cursor = types.Cursor{}
			}

			next := nextWorker(cursor.LastAssignedWorkerID, eligible)

			data, marshalErr := json.Marshal(types.Cursor{LastAssignedWorkerID: next})
			if marshalErr != nil {
				return "", fmt.Errorf("failed to marshal cursor: %w", marshalErr)
			}

			if _, err := c.kv.Update(ctx, c.key, data, entry.Revision()); err != nil {
				if natsutil.IsCASConflict(err) {
					c.recordConflict(attempt)
					continue
				}

				return "", fmt.Errorf("failed to update cursor: %w", err)
			}

			return next, nil

		case errors.Is(err, jetstream.ErrKeyNotFound):
			next := eligible[0]

			data, marshalErr := json.Marshal(types.Cursor{LastAssignedWorkerID: next})
			if marshalErr != nil {
				return "", fmt.Errorf("failed to marshal cursor: %w", marshalErr)
			}

			if _, err := c.kv.Create(ctx, c.key, data); err != nil {
				if natsutil.IsCASConflict(err) {
					c.recordConflict(attempt)
					continue
				}

				return "", fmt.Errorf("failed to create cursor: %w", err)
			}

			return next, nil

		default:
			return "", fmt.Errorf("failed to read cursor: %w", err)
		}
	}

	return "", types.ErrCursorConflict
}

func (c *CursorStore) recordConflict(attempt int) {
	c.logger.Debug("cursor update conflict, retrying", "attempt", attempt+1)
	if c.metrics != nil {
		c.metrics.RecordCursorConflict()
	}
}

// nextWorker picks the rotation successor of last within eligible.
// An empty or stale last restarts at the first element.
func nextWorker(last string, eligible []string) string {
	if last == "" {
		return eligible[0]
	}

	for i, workerID := range eligible {
		if workerID == last {
			return eligible[(i+1)%len(eligible)]
		}
	}

	return eligible[0]
}
