package job

import (
	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
)

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a finished job",
	Long: `Delete a finished job's record.

Running jobs must be cancelled first.

Examples:
  # Delete a job record
  gatefsctl job delete c7e1f9b2

  # Delete without confirmation
  gatefsctl job delete c7e1f9b2 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "Skip confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	return cmdutil.RunDeleteWithConfirmation("Job", args[0], deleteForce, func() error {
		return client.DeleteJob(args[0])
	})
}
