package rotor

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/storekit/rotor/internal/kvutil"
	"github.com/storekit/rotor/internal/presence"
)

// PresenceSession marks one worker connection as online for the dispatch
// engine: it writes a TTL'd entry into the presence bucket and renews it
// until stopped.
//
// Worker-facing processes (dashboard backends, seller apps) open one
// session per live connection. Multiple simultaneous sessions for the
// same worker are fine; the worker counts as online while at least one
// exists. A clean Stop removes the entry immediately, a crash leaves it
// to the bucket TTL.
type PresenceSession struct {
	conn *presence.Connection
}

// StartPresenceSession opens the presence bucket and begins publishing a
// live-connection entry for the worker. Renewal runs at PresenceTTL/3.
//
// Parameters:
//   - ctx: Context bounding bucket creation and the initial publish
//   - nc: NATS connection
//   - cfg: Engine configuration (bucket names and PresenceTTL); defaults
//     are applied for zero fields
//   - workerID: Roster ID of the worker this connection belongs to
func StartPresenceSession(ctx context.Context, nc *nats.Conn, cfg *Config, workerID string) (*PresenceSession, error) {
	if nc == nil {
		return nil, ErrNATSConnectionRequired
	}
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	SetDefaults(cfg)

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	kv, err := kvutil.EnsureBucket(ctx, js, jetstream.KeyValueConfig{
		Bucket: cfg.KVBuckets.PresenceBucket,
		TTL:    cfg.KVBuckets.PresenceTTL,
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("failed to open presence bucket: %w", err)
	}

	conn := presence.NewConnection(kv, workerID, cfg.KVBuckets.PresenceTTL/3)
	if err := conn.Start(ctx); err != nil {
		return nil, err
	}

	return &PresenceSession{conn: conn}, nil
}

// ConnID returns the unique identifier of this connection.
func (s *PresenceSession) ConnID() string {
	return s.conn.ConnID()
}

// Stop ends the session and deletes its presence entry, marking the
// connection offline immediately instead of waiting for TTL expiry.
func (s *PresenceSession) Stop() error {
	return s.conn.Stop()
}
