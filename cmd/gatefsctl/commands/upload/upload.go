// Package upload implements multipart upload session commands for gatefsctl.
package upload

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for upload session management.
var Cmd = &cobra.Command{
	Use:   "upload",
	Short: "Multipart upload session management",
	Long: `Inspect and manage multipart upload sessions on the GateFS server.

Examples:
  # List your active upload sessions
  gatefsctl upload list

  # Abort an upload session
  gatefsctl upload abort <upload-id>`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(abortCmd)
}
