// Package hooks provides the default no-op engine hooks.
package hooks

import (
	"github.com/storekit/rotor/types"
)

// NewNop returns hooks with every callback unset.
//
// The engine treats a nil callback as disabled and skips the dispatch
// goroutine entirely, so the zero value costs nothing per event.
func NewNop() types.Hooks {
	return types.Hooks{}
}
