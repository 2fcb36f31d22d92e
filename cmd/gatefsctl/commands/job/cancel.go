package job

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gatefs/gatefs/cmd/gatefsctl/cmdutil"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a job",
	Long: `Request cancellation of a pending or running job.

Cancellation is cooperative: a running job stops at its next checkpoint.

Examples:
  # Cancel a job
  gatefsctl job cancel c7e1f9b2`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.GetAuthenticatedClient()
	if err != nil {
		return err
	}

	job, err := client.CancelJob(args[0])
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Job %s is now %s", job.ID, job.Status))
	return nil
}
