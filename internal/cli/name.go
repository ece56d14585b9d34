// Package cli provides small CLI configuration utilities shared by cmd/loom.
package cli

import "os"

// Name returns the loom CLI command name, overridable via LOOM_COMMAND so
// the binary can coexist under an alternate name in PATH.
func Name() string {
	if n := os.Getenv("LOOM_COMMAND"); n != "" {
		return n
	}
	return "loom"
}
