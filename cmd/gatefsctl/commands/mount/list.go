package mount

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
	"github.com/gatefs/gatefs/internal/cli/timeutil"
	"github.com/gatefs/gatefs/pkg/apiclient"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all mounts",
	Long: `List the mounts registered on the GateFS server.

Shows each mount's storage type, capabilities, and search index state.

Examples:
  # List mounts as table
  gatefsctl mount list

  # List as JSON
  gatefsctl mount list -o json`,
	RunE: runList,
}

// MountList is a list of mounts for table rendering.
type MountList []apiclient.Mount

// Headers implements TableRenderer.
func (ml MountList) Headers() []string {
	return []string{"ID", "NAME", "STORAGE", "PROTECTED", "CAPABILITIES", "INDEX", "LAST INDEXED"}
}

// Rows implements TableRenderer.
func (ml MountList) Rows() [][]string {
	rows := make([][]string, 0, len(ml))
	for _, m := range ml {
		indexStatus := "-"
		lastIndexed := "-"
		if m.IndexState != nil {
			indexStatus = m.IndexState.Status
			if m.IndexState.LastIndexedAt != nil {
				lastIndexed = timeutil.Ago(*m.IndexState.LastIndexedAt)
			}
		}
		rows = append(rows, []string{
			m.ID,
			m.Name,
			m.StorageType,
			cmdutil.BoolToYesNo(m.PasswordProtected),
			cmdutil.EmptyOr(strings.Join(m.Capabilities, ","), "-"),
			indexStatus,
			lastIndexed,
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	mounts, err := client.ListMounts()
	if err != nil {
		return fmt.Errorf("failed to list mounts: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, mounts, len(mounts) == 0, "No mounts configured.", MountList(mounts))
}
