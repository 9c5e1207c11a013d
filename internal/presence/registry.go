// Package presence tracks which workers are online and resolves the
// eligible-worker pool.
//
// Presence lives in a TTL'd JetStream KV bucket holding one key per live
// connection ("conn.<workerID>.<connID>"); a worker is online while it
// owns at least one key. Eligibility additionally requires an active
// roster record with the right role, read from the document store.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/store"
	"github.com/storekit/rotor/types"
)

// DefaultConnPrefix is the key prefix for connection entries.
const DefaultConnPrefix = "conn"

// DefaultLookupConcurrency bounds parallel roster lookups per resolution.
const DefaultLookupConcurrency = 8

// Registry resolves the current eligible-worker pool.
type Registry struct {
	kv        jetstream.KeyValue
	docs      store.DocumentStore
	prefix    string
	keyPrefix string // cached "prefix."
	role      string

	lookupConcurrency int
	logger            types.Logger
	metrics           types.PresenceMetrics
}

// NewRegistry creates a presence registry.
//
// Parameters:
//   - kv: presence KV bucket
//   - docs: document store holding the worker roster
//   - role: role required for eligibility (e.g. "seller")
//   - logger: logger, nil for none
//   - metrics: presence metrics, nil for none
func NewRegistry(kv jetstream.KeyValue, docs store.DocumentStore, role string, logger types.Logger, metrics types.PresenceMetrics) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Registry{
		kv:                kv,
		docs:              docs,
		prefix:            DefaultConnPrefix,
		keyPrefix:         DefaultConnPrefix + ".",
		role:              role,
		lookupConcurrency: DefaultLookupConcurrency,
		logger:            logger,
		metrics:           metrics,
	}
}

// OnlineWorkers returns the worker IDs with at least one live connection,
// mapped to their connection counts. An empty bucket yields an empty map.
func (r *Registry) OnlineWorkers(ctx context.Context) (map[string]int, error) {
	keys, err := r.kv.Keys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) {
			return map[string]int{}, nil
		}

		return nil, fmt.Errorf("failed to list presence keys: %w", err)
	}

	online := make(map[string]int)
	for _, key := range keys {
		workerID := r.workerFromKey(key)
		if workerID == "" {
			continue
		}
		online[workerID]++
	}

	return online, nil
}

// ResolveActiveWorkers returns the sorted IDs of all eligible workers:
// online, role matching, and roster status neither suspended nor inactive.
//
// Roster lookups run with bounded concurrency; a single lookup failure
// excludes that worker and is logged, never failing the resolution. An
// empty result means "no one available", not an error.
func (r *Registry) ResolveActiveWorkers(ctx context.Context) ([]string, error) {
	online, err := r.OnlineWorkers(ctx)
	if err != nil {
		return nil, err
	}

	if len(online) == 0 {
		r.recordEligible(0)
		return []string{}, nil
	}

	candidates := make([]string, 0, len(online))
	for workerID := range online {
		candidates = append(candidates, workerID)
	}

	var (
		mu       sync.Mutex
		eligible []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.lookupConcurrency)

	for _, workerID := range candidates {
		g.Go(func() error {
			worker, err := r.docs.GetWorker(gctx, workerID)
			if err != nil {
				if !errors.Is(err, types.ErrWorkerNotFound) {
					r.logger.Warn("worker lookup failed, excluding from pool", "worker_id", workerID, "error", err)
				}
				if r.metrics != nil {
					r.metrics.RecordLookupFailure()
				}

				return nil //nolint:nilerr // exclusion, not failure
			}

			if !worker.Eligible(r.role) {
				r.logger.Debug("worker present but not eligible",
					"worker_id", workerID, "role", worker.Role, "status", worker.Status)
				return nil
			}

			mu.Lock()
			eligible = append(eligible, workerID)
			mu.Unlock()

			return nil
		})
	}

	// Lookup goroutines never return errors; Wait only propagates context
	// cancellation from gctx.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stable ordering so cursor rotation is well-defined across calls.
	sort.Strings(eligible)

	r.recordEligible(len(eligible))
	r.logger.Debug("eligible workers resolved", "online", len(online), "eligible", len(eligible))

	return eligible, nil
}

func (r *Registry) recordEligible(count int) {
	if r.metrics != nil {
		r.metrics.RecordEligibleWorkers(count)
	}
}

// workerFromKey extracts the worker ID from "conn.<workerID>.<connID>",
// or "" for keys outside the presence namespace.
func (r *Registry) workerFromKey(key string) string {
	if !strings.HasPrefix(key, r.keyPrefix) {
		return ""
	}

	rest := key[len(r.keyPrefix):]
	idx := strings.LastIndex(rest, ".")
	if idx <= 0 {
		return ""
	}

	return rest[:idx]
}
