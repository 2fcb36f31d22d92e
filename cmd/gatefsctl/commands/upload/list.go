package upload

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/output"
	"github.com/gatefs/gatefs/internal/cli/timeutil"
	"github.com/gatefs/gatefs/pkg/apiclient"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active upload sessions",
	Long: `List your active multipart upload sessions.

Shows per-session progress and expiry. Expired sessions are reaped by
the server and disappear from this list.

Examples:
  # List sessions as table
  gatefsctl upload list

  # List as JSON
  gatefsctl upload list -o json`,
	RunE: runList,
}

// SessionList is a list of upload sessions for table rendering.
type SessionList []apiclient.UploadSession

// Headers implements TableRenderer.
func (sl SessionList) Headers() []string {
	return []string{"ID", "MOUNT", "FILE", "SIZE", "PROGRESS", "STATUS", "EXPIRES"}
}

// Rows implements TableRenderer.
func (sl SessionList) Rows() [][]string {
	rows := make([][]string, 0, len(sl))
	for _, s := range sl {
		progress := fmt.Sprintf("%d/%d parts (%s)",
			s.UploadedParts, s.TotalParts, output.FormatBytes(s.BytesUploaded))
		rows = append(rows, []string{
			s.ID,
			s.MountID,
			s.FileName,
			output.FormatBytes(s.FileSize),
			progress,
			s.Status,
			timeutil.Format(s.ExpiresAt),
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	sessions, err := client.ListUploadSessions()
	if err != nil {
		return fmt.Errorf("failed to list upload sessions: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, sessions, len(sessions) == 0, "No active upload sessions.", SessionList(sessions))
}
