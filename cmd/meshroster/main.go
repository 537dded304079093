// Meshroster keeps a roster of mesh radio devices.
//
// It validates candidate radios through the meshtastic CLI, assigns a
// PRIMARY and SECONDARY roles among those that answer, and records every
// commit so the previous roster can be restored.
//
// Usage:
//
//	meshroster [command] [flags]
//
// See 'meshroster --help' for available commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
