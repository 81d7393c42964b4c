// Package cli implements the icn-node command line surface: one
// cobra sub-command group per subsystem. Each command operates
// against the shared RuntimeContext the root command bootstraps in
// PersistentPreRunE.
package cli

import (
	"fmt"

	"icn-node/core"
)

// RC is the runtime context every sub-command dispatches against. It
// is set once by icn-node's root command before any sub-command runs.
var RC *core.RuntimeContext

func requireRC() error {
	if RC == nil {
		return fmt.Errorf("icn-node: runtime context not initialised")
	}
	return nil
}
