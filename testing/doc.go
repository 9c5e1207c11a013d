// Package testing provides test utilities for the rotor engine.
//
// It offers embedded NATS servers with JetStream for exercising the
// realtime-store side of the engine without external dependencies,
// following Go's convention of a dedicated testing package (similar to
// net/http/httptest).
//
// Example usage:
//
//	import (
//	    "testing"
//	    rotortest "github.com/storekit/rotor/testing"
//	)
//
//	func TestMyComponent(t *testing.T) {
//	    _, nc := rotortest.StartEmbeddedNATS(t)
//	    // Use nc for your tests
//	}
package testing
