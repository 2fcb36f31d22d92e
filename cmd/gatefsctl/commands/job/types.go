package job

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List available job types",
	Long: `List the job types the caller may submit or inspect.

Examples:
  # List job types
  gatefsctl job types`,
	RunE: runTypes,
}

// jobTypeTable renders job type names as a table.
type jobTypeTable []string

// Headers implements TableRenderer.
func (tt jobTypeTable) Headers() []string {
	return []string{"TYPE"}
}

// Rows implements TableRenderer.
func (tt jobTypeTable) Rows() [][]string {
	rows := make([][]string, 0, len(tt))
	for _, name := range tt {
		rows = append(rows, []string{name})
	}
	return rows
}

func runTypes(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	types, err := client.JobTypes()
	if err != nil {
		return fmt.Errorf("failed to list job types: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, types, len(types) == 0, "No job types available.", jobTypeTable(types))
}
