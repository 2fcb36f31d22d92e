// Package context implements connection context management for gatefsctl.
package context

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for context management.
var Cmd = &cobra.Command{
	Use:   "context",
	Short: "Manage server contexts",
	Long: `Manage saved server connection contexts.

A context stores a server URL plus the credentials obtained at login.
Multiple contexts let you switch between servers without re-entering
credentials.

Examples:
  # Show the active context
  gatefsctl context current

  # List all contexts
  gatefsctl context list

  # Switch to another context
  gatefsctl context use staging

  # Delete a context
  gatefsctl context delete staging`,
}

func init() {
	Cmd.AddCommand(currentCmd)
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(useCmd)
	Cmd.AddCommand(deleteCmd)
}
