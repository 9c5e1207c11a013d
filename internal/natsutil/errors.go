// Package natsutil provides NATS error classification helpers, kept out of
// types/ so that package stays free of NATS imports.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/storekit/rotor/types"
)

// IsConnectivityError checks whether an error is caused by NATS
// connectivity issues (timeouts, refused connections, disconnects) rather
// than an application error.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsCASConflict checks whether a KV write failed because another writer
// got there first. jetstream wraps both Create-on-existing-key and
// Update-with-stale-revision into ErrKeyExists; the raw wrong-last-sequence
// message is matched as a fallback for older server responses.
func IsCASConflict(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, jetstream.ErrKeyExists) ||
		strings.Contains(err.Error(), "wrong last sequence")
}
