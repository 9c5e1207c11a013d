package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Common errors for connection publishing.
var (
	ErrNotStarted     = errors.New("connection not started")
	ErrAlreadyStarted = errors.New("connection already started")
	ErrNoWorkerID     = errors.New("worker ID not set")
)

// Connection publishes one live-connection entry for a worker and keeps
// it alive until stopped.
//
// This is the client half the presence-tracking collaborator embeds in
// worker-facing processes: each open tab or device holds its own
// Connection, so simultaneous sessions never overwrite each other. The
// bucket's TTL reaps entries whose owner crashed; a clean Stop deletes
// the entry immediately.
type Connection struct {
	kv       jetstream.KeyValue
	prefix   string
	workerID string
	connID   string
	interval time.Duration

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	ticker  *time.Ticker
}

// NewConnection creates a connection publisher for the worker.
//
// The presence bucket should carry a TTL of ~3x the renewal interval so
// a crashed holder disappears after three missed renewals.
func NewConnection(kv jetstream.KeyValue, workerID string, interval time.Duration) *Connection {
	return &Connection{
		kv:       kv,
		prefix:   DefaultConnPrefix,
		workerID: workerID,
		connID:   uuid.NewString(),
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Key returns the KV key this connection occupies.
func (c *Connection) Key() string {
	return fmt.Sprintf("%s.%s.%s", c.prefix, c.workerID, c.connID)
}

// ConnID returns the unique connection identifier.
func (c *Connection) ConnID() string {
	return c.connID
}

// Start writes the connection entry and begins background renewal.
func (c *Connection) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if c.workerID == "" {
		return ErrNoWorkerID
	}

	if err := c.publish(ctx); err != nil {
		return fmt.Errorf("failed to publish initial connection entry: %w", err)
	}

	c.started = true
	c.ticker = time.NewTicker(c.interval)

	go c.renewLoop()

	return nil
}

// Stop stops renewal and deletes the connection entry, signalling the
// worker went offline immediately instead of waiting for TTL expiry.
func (c *Connection) Stop() error {
	c.mu.Lock()

	if !c.started {
		c.mu.Unlock()
		return ErrNotStarted
	}

	c.ticker.Stop()
	close(c.stopCh)
	c.started = false

	c.mu.Unlock()

	<-c.doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.kv.Delete(ctx, c.Key()); err != nil {
		return fmt.Errorf("stopped but failed to delete connection entry: %w", err)
	}

	return nil
}

func (c *Connection) renewLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		case <-c.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := c.publish(ctx)
			cancel()

			if err != nil {
				// Keep trying; TTL expiry is the worst case.
				continue
			}
		}
	}
}

func (c *Connection) publish(ctx context.Context) error {
	value := []byte(time.Now().UTC().Format(time.RFC3339Nano))

	if _, err := c.kv.Put(ctx, c.Key(), value); err != nil {
		return fmt.Errorf("failed to publish connection entry for %s: %w", c.workerID, err)
	}

	return nil
}
