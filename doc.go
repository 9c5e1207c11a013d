// Package rotor implements an automatic order-dispatch engine: every new
// order is assigned to exactly one online sales worker, rotating fairly
// through the currently eligible pool, with reconciliation sweeps that
// self-heal missed or partially written assignments.
//
// # Quick Start
//
// Basic usage with default settings:
//
//	import "github.com/storekit/rotor"
//
//	cfg := rotor.DefaultConfig()
//	docs, err := mongo.Connect(ctx, "mongodb://localhost:27017", "shop")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := rotor.NewEngine(&cfg, natsConn, docs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(context.Background())
//
// # Key Properties
//
//   - At-most-one assignment: a no-clobber guard checks both backing
//     stores before any write, so no trigger path can double-assign
//   - Fair rotation: a shared cursor advanced with optimistic
//     compare-and-retry updates rotates assignments through the pool
//   - Self-healing: bounded reconciliation sweeps pick up items created
//     while nobody was online and repair partial dual-store writes
//   - Presence-driven: a worker coming back online (a genuine zero to
//     at-least-one connection transition) triggers an immediate sweep
//
// # Architecture
//
// The engine spans two independently consistent stores: an authoritative
// document store (MongoDB) and a realtime JetStream KV mirror watched by
// dashboards. Order creation lands in the mirror and is picked up by the
// engine's change feed; the presence bucket holds one TTL'd key per live
// worker connection.
//
// Dual writes are not atomic. Partial failures are tolerated and
// repaired by the next sweep, bounded by the no-clobber guard to a
// redundant metadata write rather than a double assignment.
//
// See the examples/ directory for complete working examples and
// cmd/rotord for the daemon that hosts the watchers, the periodic sweep,
// and the manual HTTP endpoint.
package rotor
