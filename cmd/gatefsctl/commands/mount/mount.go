// Package mount implements mount inspection commands for gatefsctl.
package mount

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for mount inspection.
var Cmd = &cobra.Command{
	Use:   "mount",
	Short: "Mount inspection",
	Long: `Inspect the mounts registered on the GateFS server.

Examples:
  # List all mounts with their index state
  gatefsctl mount list`,
}

func init() {
	Cmd.AddCommand(listCmd)
}
